/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mautops/record-gin/internal/api"
	"github.com/mautops/record-gin/internal/config"
	"github.com/mautops/record-gin/internal/container"
	"github.com/mautops/record-gin/pkg/types"
	"github.com/spf13/cobra"
)

// templateCmd represents the template command
var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Export or import template definitions",
}

var templateExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export templates as YAML",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, _ := cmd.Flags().GetStringSlice("ids")
		out, _ := cmd.Flags().GetString("out")

		return withContainer(cmd, func(ctx context.Context, ctr *container.Container, actor *types.Actor) error {
			var w io.Writer = os.Stdout
			if out != "" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			n, err := ctr.TemplateService().Export(ctx, actor, ids, w)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "exported %d templates\n", n)
			return nil
		})
	},
}

var templateImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import templates from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}

		return withContainer(cmd, func(ctx context.Context, ctr *container.Container, actor *types.Actor) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", file, err)
			}
			defer f.Close()

			imported, err := ctr.TemplateService().Import(ctx, actor, f)
			if err != nil {
				return err
			}
			for _, tpl := range imported {
				fmt.Fprintf(os.Stdout, "%s\t%s\t%s\n", tpl.ID, tpl.Code, tpl.Name)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(templateCmd)
	templateCmd.AddCommand(templateExportCmd, templateImportCmd)

	templateCmd.PersistentFlags().String("user", "cli", "Acting user id")
	templateCmd.PersistentFlags().String("org", "", "Organization id")
	templateCmd.PersistentFlags().StringSlice("roles", []string{"admin"}, "Acting user roles")

	templateExportCmd.Flags().StringSlice("ids", nil, "Template ids to export (default: all)")
	templateExportCmd.Flags().String("out", "", "Output file (default: stdout)")
	templateImportCmd.Flags().String("file", "", "YAML file to import")
}

// actorFromFlags 从命令行参数构造操作人
func actorFromFlags(cmd *cobra.Command) (*types.Actor, error) {
	user, _ := cmd.Flags().GetString("user")
	org, _ := cmd.Flags().GetString("org")
	roles, _ := cmd.Flags().GetStringSlice("roles")
	if strings.TrimSpace(user) == "" {
		return nil, fmt.Errorf("--user is required")
	}
	return &types.Actor{ID: user, OrganizationID: org, Roles: roles}, nil
}

// withContainer 加载配置并初始化容器,命令执行完后释放资源
func withContainer(cmd *cobra.Command, fn func(ctx context.Context, ctr *container.Container, actor *types.Actor) error) error {
	actor, err := actorFromFlags(cmd)
	if err != nil {
		return err
	}

	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := api.NewLoggerFromConfig(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctr, err := container.NewContainer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize container: %w", err)
	}
	defer ctr.Close()

	return fn(ctx, ctr, actor)
}
