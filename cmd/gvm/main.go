// Copyright 2017 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

// gvm runs or analyzes EVM bytecode from the command line.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/evmts/guillotine-go/common"
	"github.com/evmts/guillotine-go/core/tracing"
	"github.com/evmts/guillotine-go/core/vm"
	"github.com/evmts/guillotine-go/core/vm/runtime"
	"github.com/evmts/guillotine-go/log"
)

var (
	codeFlag = &cli.StringFlag{
		Name:  "code",
		Usage: "hex bytecode to execute",
	}
	codeFileFlag = &cli.StringFlag{
		Name:  "codefile",
		Usage: "file containing hex bytecode, - for stdin",
	}
	inputFlag = &cli.StringFlag{
		Name:  "input",
		Usage: "hex calldata",
	}
	gasFlag = &cli.Uint64Flag{
		Name:  "gas",
		Usage: "gas limit for the call",
		Value: 10_000_000,
	}
	shadowFlag = &cli.StringFlag{
		Name:  "shadow",
		Usage: `shadow-compare against the reference interpreter: "call" or "block"`,
	}
	refFlag = &cli.BoolFlag{
		Name:  "ref",
		Usage: "execute on the per-instruction reference interpreter",
	}
	traceFlag = &cli.BoolFlag{
		Name:  "trace",
		Usage: "print a JSON step trace to stderr",
	}
	logLevelFlag = &cli.StringFlag{
		Name:  "loglevel",
		Usage: "log level (debug, info, warn, error)",
		Value: "info",
	}
)

func main() {
	app := &cli.App{
		Name:  "gvm",
		Usage: "run and analyze EVM bytecode",
		Flags: []cli.Flag{logLevelFlag},
		Before: func(ctx *cli.Context) error {
			return log.Init(log.GlobalConfig{Level: ctx.String(logLevelFlag.Name), Encoding: "console"})
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "execute bytecode and print the result",
				Flags:  []cli.Flag{codeFlag, codeFileFlag, inputFlag, gasFlag, shadowFlag, refFlag, traceFlag},
				Action: runCmd,
			},
			{
				Name:   "analyze",
				Usage:  "print the basic blocks and jumps of bytecode",
				Flags:  []cli.Flag{codeFlag, codeFileFlag},
				Action: analyzeCmd,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func readCode(ctx *cli.Context) ([]byte, error) {
	hexCode := ctx.String(codeFlag.Name)
	if file := ctx.String(codeFileFlag.Name); file != "" {
		var (
			raw []byte
			err error
		)
		if file == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(file)
		}
		if err != nil {
			return nil, errors.Wrap(err, "read code file")
		}
		hexCode = strings.TrimSpace(string(raw))
	}
	if hexCode == "" {
		return nil, errors.New("no code given, use --code or --codefile")
	}
	code := common.FromHex(hexCode)
	if len(code) == 0 {
		return nil, errors.Errorf("invalid hex code %q", hexCode)
	}
	return code, nil
}

// stepTraceLine is one JSON line of the --trace output.
type stepTraceLine struct {
	PC      uint64   `json:"pc"`
	Op      string   `json:"op"`
	Gas     uint64   `json:"gas"`
	Cost    uint64   `json:"cost"`
	Depth   int      `json:"depth"`
	Stack   []string `json:"stack"`
	MemSize int      `json:"memSize"`
}

func traceHooks() *tracing.Hooks {
	enc := json.NewEncoder(os.Stderr)
	return &tracing.Hooks{
		OnOpcode: func(pc uint64, op byte, gas, cost uint64, scope tracing.OpContext, rData []byte, depth int, err error) tracing.Action {
			stack := scope.StackData()
			line := stepTraceLine{
				PC:      pc,
				Op:      vm.OpCode(op).String(),
				Gas:     gas,
				Cost:    cost,
				Depth:   depth,
				Stack:   make([]string, len(stack)),
				MemSize: len(scope.MemoryData()),
			}
			for i := range stack {
				line.Stack[i] = stack[i].Hex()
			}
			enc.Encode(line)
			return tracing.Continue
		},
	}
}

func runCmd(ctx *cli.Context) error {
	code, err := readCode(ctx)
	if err != nil {
		return err
	}
	input := common.FromHex(ctx.String(inputFlag.Name))
	cfg := &runtime.Config{
		GasLimit: ctx.Uint64(gasFlag.Name),
	}
	cfg.EVMConfig.UseReferenceInterpreter = ctx.Bool(refFlag.Name)
	if ctx.Bool(traceFlag.Name) {
		cfg.EVMConfig.Tracer = traceHooks()
	}

	if mode := ctx.String(shadowFlag.Name); mode != "" {
		var granularity vm.ShadowGranularity
		switch mode {
		case "call":
			granularity = vm.GranularityCall
		case "block":
			granularity = vm.GranularityBlock
		default:
			return errors.Errorf("unknown shadow granularity %q", mode)
		}
		res, err := runtime.ExecuteShadow(code, input, granularity, cfg)
		printResult(res.Output, cfg.GasLimit-res.GasLeft, res.Err)
		if err != nil {
			return err
		}
		fmt.Println("shadow: interpreters agree")
		return nil
	}

	ret, st, err := runtime.Execute(code, input, cfg)
	printResult(ret, 0, err)
	for _, l := range st.Logs() {
		fmt.Printf("log %s topics=%d data=0x%x\n", l.Address.Hex(), len(l.Topics), l.Data)
	}
	return nil
}

func printResult(output []byte, gasUsed uint64, err error) {
	fmt.Printf("output: 0x%x\n", output)
	if gasUsed > 0 {
		fmt.Printf("gas used: %d\n", gasUsed)
	}
	if err != nil {
		fmt.Printf("error: %v\n", err)
	}
}

func analyzeCmd(ctx *cli.Context) error {
	code, err := readCode(ctx)
	if err != nil {
		return err
	}
	analysis, err := vm.Analyze(code)
	if err != nil {
		return err
	}

	fmt.Printf("code: %d bytes\n\n", analysis.CodeLen())

	blocks := tablewriter.NewWriter(os.Stdout)
	blocks.SetHeader([]string{"Block", "Start PC", "End PC", "Static Gas", "Min Stack", "Max Growth"})
	for i, b := range analysis.Blocks() {
		blocks.Append([]string{
			strconv.Itoa(i),
			fmt.Sprintf("0x%x", b.StartPC),
			fmt.Sprintf("0x%x", b.EndPC),
			strconv.FormatUint(b.StaticGas, 10),
			strconv.Itoa(b.MinStack),
			strconv.Itoa(b.MaxGrowth),
		})
	}
	blocks.Render()

	jumps := analysis.Jumps()
	if len(jumps) == 0 {
		return nil
	}
	fmt.Println()
	jt := tablewriter.NewWriter(os.Stdout)
	jt.SetHeader([]string{"PC", "Op", "Kind", "Target", "Valid"})
	for _, j := range jumps {
		kind := "dynamic"
		target := "-"
		if j.Static {
			kind = "static"
			target = fmt.Sprintf("0x%x", j.Target)
		}
		jt.Append([]string{
			fmt.Sprintf("0x%x", j.PC),
			j.Op.String(),
			kind,
			target,
			strconv.FormatBool(j.Valid),
		})
	}
	jt.Render()
	return nil
}
