package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
	"southwinds.dev/opvault"
	"southwinds.dev/opvault/audit"
	"southwinds.dev/opvault/persist"
)

var (
	cfgFile     string
	vaultPath   string
	auditLogger audit.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "opvault",
	Short: "A read-only client for encrypted vault containers",
	Long: `A read-only client for directory-based encrypted vault containers.
Items are decrypted on demand with the master password; keys are held in
protected memory for the session's lifetime only and wiped on lock or exit.`,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if auditLogger != nil {
			return auditLogger.Close()
		}
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags - consistent with config file structure
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.opvault.yaml)")
	rootCmd.PersistentFlags().StringVarP(&vaultPath, "vault", "p", "", "path to the vault container")
	rootCmd.PersistentFlags().Duration("timeout", 0, "idle auto-lock timeout (0 disables)")
	rootCmd.PersistentFlags().Bool("memory-lock", false, "attempt to lock process memory")
	rootCmd.PersistentFlags().String("store-type", "", "storage backend type (file, s3)")

	// Bind flags to viper
	bindFlagOrPanic("vault.path", "vault")
	bindFlagOrPanic("vault.timeout", "timeout")
	bindFlagOrPanic("vault.memory_lock", "memory-lock")
	bindFlagOrPanic("vault.store_type", "store-type")

	// Audit flags
	rootCmd.PersistentFlags().Bool("audit", false, "enable audit logging")
	rootCmd.PersistentFlags().String("audit-type", "", "audit logger type (file, syslog)")
	rootCmd.PersistentFlags().String("audit-file", "", "audit log file path")

	// Bind audit flags
	bindFlagOrPanic("audit.enabled", "audit")
	bindFlagOrPanic("audit.type", "audit-type")
	bindFlagOrPanic("audit.options.file_path", "audit-file")

	// S3 flags (for containers held in object storage)
	rootCmd.PersistentFlags().String("s3-endpoint", "", "S3 endpoint URL")
	rootCmd.PersistentFlags().String("s3-region", "", "S3 region")
	rootCmd.PersistentFlags().String("s3-bucket", "", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-prefix", "", "S3 key prefix")
	rootCmd.PersistentFlags().String("s3-access-key", "", "S3 access key ID")
	rootCmd.PersistentFlags().String("s3-secret-key", "", "S3 secret access key")
	rootCmd.PersistentFlags().Bool("s3-use-ssl", true, "Use SSL for S3 connections")

	// Bind S3 flags
	bindFlagOrPanic("vault.s3.endpoint", "s3-endpoint")
	bindFlagOrPanic("vault.s3.region", "s3-region")
	bindFlagOrPanic("vault.s3.bucket", "s3-bucket")
	bindFlagOrPanic("vault.s3.key_prefix", "s3-prefix")
	bindFlagOrPanic("vault.s3.access_key_id", "s3-access-key")
	bindFlagOrPanic("vault.s3.secret_access_key", "s3-secret-key")
	bindFlagOrPanic("vault.s3.use_ssl", "s3-use-ssl")
}

func bindFlagOrPanic(configKey, flagName string) {
	if err := viper.BindPFlag(configKey, rootCmd.PersistentFlags().Lookup(flagName)); err != nil {
		panic(fmt.Sprintf("failed to bind %s flag: %v", flagName, err))
	}
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigName(".opvault")
			viper.SetConfigType("yaml")
		}
	}

	viper.SetEnvPrefix("OPVAULT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing config file is fine; flags and env cover everything.
	_ = viper.ReadInConfig()
}

// newAuditLogger builds the configured audit backend
func newAuditLogger() (audit.Logger, error) {
	if !viper.GetBool("audit.enabled") {
		return audit.NewNoOpLogger(), nil
	}

	auditType := audit.ConfigType(viper.GetString("audit.type"))
	if auditType == "" {
		auditType = audit.FileAuditType
	}

	options := map[string]interface{}{}
	filePath := viper.GetString("audit.options.file_path")
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine audit log location: %w", err)
		}
		filePath = filepath.Join(home, ".opvault", "audit.log")
	}
	options["file_path"] = filePath

	return audit.NewLogger(&audit.Config{
		Enabled: true,
		Type:    auditType,
		Options: options,
	})
}

// newStoreFactory returns the container store builder selected by config
func newStoreFactory() func(path string) (persist.Store, error) {
	if viper.GetString("vault.store_type") != string(persist.StoreTypeS3) {
		return nil // default filesystem factory
	}

	return func(path string) (persist.Store, error) {
		return persist.NewS3Store(persist.S3Config{
			Endpoint:        viper.GetString("vault.s3.endpoint"),
			AccessKeyID:     viper.GetString("vault.s3.access_key_id"),
			SecretAccessKey: viper.GetString("vault.s3.secret_access_key"),
			UseSSL:          viper.GetBool("vault.s3.use_ssl"),
			Region:          viper.GetString("vault.s3.region"),
			Bucket:          viper.GetString("vault.s3.bucket"),
			KeyPrefix:       path,
		})
	}
}

// newSession builds a locked session from the effective configuration
func newSession() (*opvault.Session, error) {
	var err error
	auditLogger, err = newAuditLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to set up audit logging: %w", err)
	}

	return opvault.NewSession(opvault.Options{
		Audit:            auditLogger,
		StoreFactory:     newStoreFactory(),
		EnableMemoryLock: viper.GetBool("vault.memory_lock"),
	})
}

// effectiveVaultPath resolves the container path from flag, env or config
func effectiveVaultPath() (string, error) {
	path := viper.GetString("vault.path")
	if path == "" {
		return "", fmt.Errorf("no vault path configured (use --vault or OPVAULT_VAULT_PATH)")
	}
	return path, nil
}

// promptPassword reads the master password without echo. The OPVAULT_PASSWORD
// environment variable short-circuits the prompt for scripted use.
func promptPassword() (string, error) {
	if password := os.Getenv("OPVAULT_PASSWORD"); password != "" {
		return password, nil
	}

	fmt.Fprint(os.Stderr, "Master password: ")
	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	password := string(raw)
	memguard.WipeBytes(raw)
	return password, nil
}

// unlockedSession builds a session and unlocks it interactively
func unlockedSession(cmd *cobra.Command) (*opvault.Session, error) {
	session, err := newSession()
	if err != nil {
		return nil, err
	}

	path, err := effectiveVaultPath()
	if err != nil {
		return nil, err
	}

	password, err := promptPassword()
	if err != nil {
		return nil, err
	}

	err = session.Unlock(cmd.Context(), path, password, viper.GetDuration("vault.timeout"))
	if err != nil {
		return nil, err
	}
	return session, nil
}
