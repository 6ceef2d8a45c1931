// Package cli provides the command-line interface for goftp.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/darshan-rambhia/goftp"
	"github.com/darshan-rambhia/goftp/internal/config"
	"github.com/darshan-rambhia/goftp/internal/logging"
)

// Version is set by the main package at startup.
var Version = "dev"

// remoteClient is the subset of *goftp.Client the commands use.
type remoteClient interface {
	goftp.ClientInterface
	Close() error
}

// dialClient creates and connects a client. Replaced in tests.
var dialClient = func(ctx context.Context, cfg goftp.ConnectionConfig, logger zerolog.Logger) (remoteClient, error) {
	client := goftp.New(goftp.WithLogger(logger))
	if err := client.Connect(ctx, cfg); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// options holds the global flags.
type options struct {
	configFile  string
	site        string
	host        string
	port        int
	user        string
	password    string
	protocol    string
	defaultPath string
	insecure    bool
	logLevel    string
	verbose     bool

	logger  zerolog.Logger
	profile *config.Site
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "goftp",
		Short: "Browse, transfer and mirror files on FTP, FTPS and SFTP servers",
		Long: `goftp ` + Version + `
Work with files on a remote server over a single session.

Connection settings come from a site profile (--site), then GOFTP_*
environment variables, then flags, each overriding the one before.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := opts.logLevel
			if opts.verbose {
				level = "debug"
			}
			opts.logger = logging.New(cmd.ErrOrStderr(), level)
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "Site profile file (default $XDG_CONFIG_HOME/goftp/sites.yaml)")
	flags.StringVarP(&opts.site, "site", "s", "", "Site profile name")
	flags.StringVar(&opts.host, "host", "", "Server hostname")
	flags.IntVar(&opts.port, "port", 0, "Server port (default depends on protocol)")
	flags.StringVarP(&opts.user, "user", "u", "", "Login name")
	flags.StringVar(&opts.password, "password", "", "Login password (prompted when omitted on a terminal)")
	flags.StringVar(&opts.protocol, "protocol", "", "Protocol: ftp, ftps or sftp")
	flags.StringVar(&opts.defaultPath, "default-path", "", "Remote directory to enter after login")
	flags.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate and SSH host key verification")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output (same as --log-level debug)")

	rootCmd.Version = Version

	rootCmd.AddCommand(
		newListCmd(opts),
		newGetCmd(opts),
		newPutCmd(opts),
		newMkdirCmd(opts),
		newRmCmd(opts),
		newRmdirCmd(opts),
		newMvCmd(opts),
		newStatCmd(opts),
		newSyncCmd(opts),
	)

	return rootCmd
}

// connectionConfig resolves profile, environment and flags into a config.
func (o *options) connectionConfig(cmd *cobra.Command) (goftp.ConnectionConfig, error) {
	var cfg goftp.ConnectionConfig
	cfg.Passive = true

	if o.site != "" {
		path := o.configFile
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return cfg, err
			}
			path = p
		}
		file, err := config.Load(path)
		if err != nil {
			return cfg, err
		}
		site, err := file.Site(o.site)
		if err != nil {
			return cfg, err
		}
		o.profile = &site
		cfg = site.ConnectionConfig()
	}

	if err := config.ApplyEnv(&cfg, os.Getenv); err != nil {
		return cfg, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = o.host
	}
	if flags.Changed("port") {
		cfg.Port = o.port
	}
	if flags.Changed("user") {
		cfg.Username = o.user
	}
	if flags.Changed("password") {
		cfg.Password = o.password
	}
	if flags.Changed("protocol") {
		cfg.Protocol = goftp.Protocol(strings.ToLower(o.protocol))
	}
	if flags.Changed("default-path") {
		cfg.DefaultRemotePath = o.defaultPath
	}
	if o.insecure {
		cfg.InsecureIgnoreHostKey = true
		if cfg.SecureOptions == nil {
			cfg.SecureOptions = map[string]string{}
		}
		cfg.SecureOptions["insecure_skip_verify"] = "true"
	}

	if cfg.Host == "" {
		return cfg, fmt.Errorf("no host given: use --host, --site or %s", config.EnvHost)
	}
	return cfg, nil
}

// connect builds the config, prompts for a missing password, and dials.
func (o *options) connect(cmd *cobra.Command) (remoteClient, error) {
	cfg, err := o.connectionConfig(cmd)
	if err != nil {
		return nil, err
	}

	needsPassword := cfg.Username != "" && cfg.Password == "" &&
		cfg.PrivateKey == "" && cfg.KeyPath == ""
	if needsPassword && term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := promptPassword(cmd.ErrOrStderr(), cfg)
		if err != nil {
			return nil, err
		}
		cfg.Password = pw
	}

	return dialClient(cmd.Context(), cfg, o.logger)
}

func promptPassword(w io.Writer, cfg goftp.ConnectionConfig) (string, error) {
	fmt.Fprintf(w, "Password for %s@%s: ", cfg.Username, cfg.Host)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(pw), nil
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
