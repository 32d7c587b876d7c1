package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/solo/pkg/chef"
	"github.com/openfroyo/solo/pkg/remote"
	"github.com/openfroyo/solo/pkg/transports/ssh"
)

func newExecCommand() *cobra.Command {
	var (
		host     string
		user     string
		keyFile  string
		name     string
		execPath string
		logPath  string
		noSave   bool
	)

	cmd := &cobra.Command{
		Use:   "exec --host <host> --key-file <path> -- <command>",
		Short: "Run an ad-hoc script on a host",
		Long: `Run an ad-hoc script on a host the same way provisioning steps run.

The script is wrapped in a bash -x preamble that changes into the exec
path. Unless --no-save is given it is saved as <exec-path>/<name>, made
executable and run with its output redirected to a log file next to it.
On failure the remote log is printed.`,
		Example: `  # Check the chef version on a host
  solo exec --host 10.0.0.5 --key-file ~/.ssh/id_rsa -- chef-solo --version

  # Run inline without saving the script
  solo exec --host 10.0.0.5 --key-file ~/.ssh/id_rsa --no-save -- uptime`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			key, err := os.ReadFile(keyFile)
			if err != nil {
				return fmt.Errorf("failed to read private key: %w", err)
			}

			target := remote.Target{
				Host:       host,
				Username:   user,
				PrivateKey: key,
			}
			dialer, err := ssh.NewSSHDialer(target.SSHConfig(cfg.SSHBase()))
			if err != nil {
				return err
			}

			r := remote.New(target, dialer)
			defer r.Close()

			opts := []remote.CommandOption{remote.WithExecPath(execPath)}
			if noSave {
				opts = append(opts, remote.WithoutSave())
			}
			if logPath != "" {
				opts = append(opts, remote.WithLogPath(logPath))
			}

			script := strings.Join(args, " ")
			log.Debug().Str("host", host).Str("script", script).Msg("Executing ad-hoc script")

			result, err := r.ExecuteRemoteCommand(ctx, name, script, opts...)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(result)
			}
			if result.LogPath != "" {
				fmt.Printf("✓ %s succeeded on %s, log at %s\n", name, host, result.LogPath)
				return nil
			}
			fmt.Print(result.Stdout)
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "host to run on")
	cmd.Flags().StringVarP(&user, "user", "u", chef.DefaultUsername, "SSH user")
	cmd.Flags().StringVarP(&keyFile, "key-file", "i", "", "private key file")
	cmd.Flags().StringVar(&name, "name", "exec", "script name on the host")
	cmd.Flags().StringVar(&execPath, "exec-path", remote.DefaultExecPath, "directory the script runs in")
	cmd.Flags().StringVar(&logPath, "log-path", "", "log file for a saved script")
	cmd.Flags().BoolVar(&noSave, "no-save", false, "run the script inline")
	_ = cmd.MarkFlagRequired("host")
	_ = cmd.MarkFlagRequired("key-file")

	return cmd
}
