package main

import (
	"fmt"
	"os"

	"screentest-backend/internal/tools"
	"screentest-backend/pkg/logger"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the test case generator as an MCP tool over stdio",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd.Flags().Changed("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	// stdout 归 MCP 协议使用，日志只能写 stderr
	if err := initLogging(cfg, os.Stderr); err != nil {
		return fmt.Errorf("failed to init logger: %w", err)
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting MCP server over stdio")
	return tools.ServeStdio(tools.NewMCPServer(tools.NewTestCaseTool(a.svc), version))
}
