package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tgfs-go/internal/app"
	"tgfs-go/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// readPassphrase takes the passphrase from TGFS_PASSPHRASE or prompts for
// it on the terminal.
func readPassphrase(prompt string) (string, error) {
	if p := os.Getenv("TGFS_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", errors.New("stdin is not a terminal: set TGFS_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unlockPassphrase() (string, error) {
	return readPassphrase("Passphrase: ")
}

// newPassphrase asks twice so a typo cannot lock the keys away.
func newPassphrase() (string, error) {
	if p := os.Getenv("TGFS_PASSPHRASE"); p != "" {
		return p, nil
	}
	first, err := readPassphrase("New passphrase: ")
	if err != nil {
		return "", err
	}
	second, err := readPassphrase("Repeat passphrase: ")
	if err != nil {
		return "", err
	}
	if first != second {
		return "", errors.New("passphrases do not match")
	}
	if first == "" {
		return "", errors.New("passphrase must not be empty")
	}
	return first, nil
}

// newApp reads the config and creates a TGFSApp. The caller must defer
// a.Close().
func newApp(ctx context.Context, operation string, args []string) (*app.TGFSApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewTGFSApp(ctx, cfg, operation, args, unlockPassphrase)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp runs fn against a fresh app and records its outcome.
func withApp(cmd *cobra.Command, operation string, args []string, fn func(ctx context.Context, a *app.TGFSApp) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx, operation, args)
	if err != nil {
		return err
	}
	defer a.Close()
	return a.Fail(fn(ctx, a))
}

func remoteArg(args []string) string {
	if len(args) == 0 {
		return "/"
	}
	return args[0]
}

var rootCmd = &cobra.Command{
	Use:           "tgfs",
	Short:         "Versioned file store on a message transport",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeType, _ := cmd.Flags().GetString("store")
		encType, _ := cmd.Flags().GetString("encryption")

		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults.BaseDir)
		cfg.Encryption.Type = encType
		switch storeType {
		case "filesystem":
		case "sqlite":
			cfg.Store = config.StoreConfig{
				Type:       "sqlite",
				Name:       cfg.Store.Name,
				SQLitePath: filepath.Join(defaults.BaseDir, "store.db"),
			}
		default:
			return fmt.Errorf("store type %q must be configured by editing the config file", storeType)
		}

		if err := app.InitConfig(defaults.ConfigPath, cfg, newPassphrase); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Store:      %s\n", cfg.Store.Type)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults.ConfigPath)
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Store:      %s (%s)\n", cfg.Store.Type, cfg.Store.Name)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		if cfg.Transfer.PartSize > 0 {
			fmt.Printf("Part Size:  %s\n", humanize.IBytes(uint64(cfg.Transfer.PartSize)))
		}
		return nil
	},
}

// ls command
var lsCmd = &cobra.Command{
	Use:   "ls [PATH]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		long, _ := cmd.Flags().GetBool("long")
		return withApp(cmd, "List", args, func(ctx context.Context, a *app.TGFSApp) error {
			entries, err := a.List(ctx, remoteArg(args), long)
			if err != nil {
				return err
			}
			for _, e := range entries {
				name := e.Name
				if e.IsDir {
					name += "/"
				}
				if !long {
					fmt.Println(name)
					continue
				}
				if e.IsDir {
					fmt.Printf("%-10s %-4s %s  %s\n", "-", "-", e.UpdatedAt.Local().Format("2006-01-02 15:04"), name)
					continue
				}
				fmt.Printf("%-10s %-4d %s  %s\n", humanize.IBytes(uint64(e.Size)), e.Versions, e.UpdatedAt.Local().Format("2006-01-02 15:04"), name)
			}
			return nil
		})
	},
}

// mkdir command
var mkdirCmd = &cobra.Command{
	Use:   "mkdir PATH",
	Short: "Create a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetBool("parents")
		return withApp(cmd, "MakeDirectory", args, func(ctx context.Context, a *app.TGFSApp) error {
			_, err := a.MakeDirectory(ctx, args[0], parents)
			return err
		})
	},
}

// put command
var putCmd = &cobra.Command{
	Use:   "put LOCAL REMOTE",
	Short: "Upload a file or directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		version, _ := cmd.Flags().GetString("version")
		return withApp(cmd, "Put", args, func(ctx context.Context, a *app.TGFSApp) error {
			n, err := a.Put(ctx, args[0], args[1], recursive, version)
			if n > 0 {
				fmt.Printf("Uploaded %d file(s)\n", n)
			}
			return err
		})
	},
}

// get command
var getCmd = &cobra.Command{
	Use:   "get REMOTE [LOCAL]",
	Short: "Download a file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")
		local := "."
		if len(args) > 1 {
			local = args[1]
		}
		return withApp(cmd, "Get", args, func(ctx context.Context, a *app.TGFSApp) error {
			n, err := a.Get(ctx, args[0], local, version)
			if err != nil {
				return err
			}
			fmt.Printf("Downloaded %s\n", humanize.IBytes(uint64(n)))
			return nil
		})
	},
}

// rm command
var rmCmd = &cobra.Command{
	Use:   "rm PATH",
	Short: "Remove a file, a file version or a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		version, _ := cmd.Flags().GetString("version")
		return withApp(cmd, "Remove", args, func(ctx context.Context, a *app.TGFSApp) error {
			return a.Remove(ctx, args[0], recursive, version)
		})
	},
}

// cp command
var cpCmd = &cobra.Command{
	Use:   "cp SRC DST",
	Short: "Copy a remote file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Copy", args, func(ctx context.Context, a *app.TGFSApp) error {
			_, err := a.Copy(ctx, args[0], args[1])
			return err
		})
	},
}

// mv command
var mvCmd = &cobra.Command{
	Use:   "mv SRC DST",
	Short: "Move or rename a remote file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Move", args, func(ctx context.Context, a *app.TGFSApp) error {
			_, err := a.Move(ctx, args[0], args[1])
			return err
		})
	},
}

// log command
var logCmd = &cobra.Command{
	Use:   "log PATH",
	Short: "View file version history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Versions", args, func(ctx context.Context, a *app.TGFSApp) error {
			fd, err := a.Versions(ctx, args[0])
			if err != nil {
				return err
			}
			if fd.IsEmptyFile() {
				fmt.Println("No versions (empty file).")
				return nil
			}
			versions := fd.SortedVersions()
			for i := len(versions) - 1; i >= 0; i-- {
				v := versions[i]
				current := ""
				if v.ID == fd.LatestVersionID {
					current = "  [latest]"
				}
				fmt.Printf("%s  %s  %-10s %d part(s)%s\n",
					v.ID,
					v.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
					humanize.IBytes(uint64(v.Size)),
					len(v.Parts),
					current,
				)
			}
			return nil
		})
	},
}

// touch command
var touchCmd = &cobra.Command{
	Use:   "touch PATH",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Touch", args, func(ctx context.Context, a *app.TGFSApp) error {
			return a.Touch(ctx, args[0])
		})
	},
}

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Reconcile with the remote metadata and persist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, "Sync", args, func(ctx context.Context, a *app.TGFSApp) error {
			if err := a.Sync(ctx); err != nil {
				return err
			}
			fmt.Printf("Metadata at message %s\n", a.MessageID())
			return nil
		})
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("store", "filesystem", "Message store: filesystem or sqlite")
	configInitCmd.Flags().String("encryption", "none", "Attachment encryption: none or age")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(lsCmd)
	lsCmd.Flags().BoolP("long", "l", false, "Show size, version count and time")
	rootCmd.AddCommand(mkdirCmd)
	mkdirCmd.Flags().BoolP("parents", "p", false, "Create missing parent directories")
	rootCmd.AddCommand(putCmd)
	putCmd.Flags().BoolP("recursive", "r", false, "Upload a directory tree")
	putCmd.Flags().String("version", "", "Replace this version instead of adding one")
	rootCmd.AddCommand(getCmd)
	getCmd.Flags().String("version", "", "Download this version instead of the latest")
	rootCmd.AddCommand(rmCmd)
	rmCmd.Flags().BoolP("recursive", "r", false, "Remove a directory and its contents")
	rmCmd.Flags().String("version", "", "Remove only this version of the file")
	rootCmd.AddCommand(cpCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(syncCmd)
}
