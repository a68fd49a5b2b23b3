package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-esri/internal/log"
	"github.com/joeblew999/plat-esri/internal/server"
)

// Options defines all CLI flags and env vars for the server.
// Flags: --host, --port, --data-dir, --config, --debug
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_CONFIG, SERVICE_DEBUG
type Options struct {
	Host    string `doc:"Host to bind to" default:"0.0.0.0"`
	Port    int    `doc:"Port to listen on" short:"p" default:"8087"`
	DataDir string `doc:"Directory for the service catalog" default:".data"`
	Config  string `doc:"YAML file with the initial view, basemap and services"`
	Debug   bool   `doc:"Development logging"`
}

func newServer(opts *Options) (*server.Server, error) {
	if opts.Debug {
		if err := log.Development(); err != nil {
			return nil, err
		}
	}
	return server.New(server.Config{
		Host:       opts.Host,
		Port:       fmt.Sprintf("%d", opts.Port),
		DataDir:    opts.DataDir,
		ConfigFile: opts.Config,
	})
}

func fatal(msg string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	log.Sync()
	os.Exit(1)
}

// printOut writes v as indented JSON, or YAML when --yaml is set. YAML goes
// through JSON first so GeoJSON keeps its wire shape.
func printOut(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if useYAML, _ := cmd.Flags().GetBool("yaml"); useYAML {
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return err
		}
		if data, err = yaml.Marshal(generic); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func main() {
	defer log.Sync()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var srv *server.Server
		hs := &http.Server{Addr: fmt.Sprintf("%s:%d", opts.Host, opts.Port)}

		hooks.OnStart(func() {
			var err error
			if srv, err = newServer(opts); err != nil {
				fatal("Server setup error", err)
			}
			hs.Handler = srv

			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-esri API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Data:    %s\n", opts.DataDir)
			fmt.Println()
			fmt.Printf("  Style:   %s/api/v1/style.json\n", baseURL)
			fmt.Printf("  Events:  %s/api/v1/events\n", baseURL)
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			fmt.Println()

			log.Info("[server] listening", zap.String("addr", hs.Addr))
			if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fatal("Server error", err)
			}
		})

		hooks.OnStop(func() {
			hs.Close()
			if srv != nil {
				srv.Close()
			}
		})
	})

	cli.Root().Use = "esrigl"
	cli.Root().Short = "ArcGIS REST services for MapLibre maps"
	cli.Root().Version = "0.1.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			dir, err := os.MkdirTemp("", "esrigl-spec")
			if err != nil {
				fatal("Error creating data dir", err)
			}
			defer os.RemoveAll(dir)
			opts.DataDir, opts.Config = dir, ""
			srv, err := newServer(opts)
			if err != nil {
				fatal("Error creating server", err)
			}
			defer srv.Close()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(srv.OpenAPI())
			} else {
				output, err = json.MarshalIndent(srv.OpenAPI(), "", "  ")
			}
			if err != nil {
				fatal("Error marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Root().AddCommand(queryCmd(), findCmd(), identifyCmd(), sourceCmd())

	cli.Run()
}
