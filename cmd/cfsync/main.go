package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cloudflare/cloudflare-go"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/term"

	"github.com/Travis-Britz/ipsync"
	"github.com/Travis-Britz/ipsync/internal/config"
)

// ErrNoToken is returned when no API token was given by flag, environment or key file.
var ErrNoToken = errors.New("no Cloudflare API token: use -token, set CF_API_TOKEN, or run with -setup")

var flags = struct {
	Token      string
	Domains    string
	Proxied    string
	ConfigFile string
	KeyFile    string
	Setup      bool
	Interval   time.Duration
	KeepGoing  bool
	Verify     string
	Verbose    bool
}{
	Proxied: "false",
}

var logger = logrus.New()

func init() {
	flag.StringVar(&flags.Token, "token", "", "Cloudflare API token (defaults to $CF_API_TOKEN, then the key file)")
	flag.StringVar(&flags.Domains, "domains", "", "Comma-separated list of domains to update, e.g. example.com,example.org")
	flag.StringVar(&flags.Proxied, "proxied", flags.Proxied, "Create records with the Cloudflare proxy enabled (true/false)")
	flag.StringVar(&flags.ConfigFile, "config", "", "Path to a TOML config file")
	flag.StringVar(&flags.KeyFile, "k", filepath.Join(os.Getenv("HOME"), ".cloudflare"), "Path to cloudflare API credentials file")
	flag.BoolVar(&flags.Setup, "setup", false, "Prompt for an API token, verify it, and write it to the key file")
	flag.DurationVar(&flags.Interval, "interval", 0, "Repeat the sync at this interval (0 runs once)")
	flag.BoolVar(&flags.KeepGoing, "keep-going", false, "Continue with the remaining domains after a domain fails")
	flag.StringVar(&flags.Verify, "verify", "", "Resolver address (host:port) used to check unproxied records after a sync")
	flag.BoolVar(&flags.Verbose, "v", false, "Enable verbose logging")

	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func main() {
	flag.Parse()
	if flags.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(); err != nil {
		logger.Error(err)
		os.Exit(1)
	}
}

// run returns an error only for problems with the invocation itself.
// Failures while syncing are logged and do not change the exit status.
func run() error {
	if flags.Setup {
		return runSetup()
	}

	// a missing .env file is fine
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warnf("error loading .env: %s", err)
	}

	token, err := resolveToken()
	if err != nil {
		return err
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		return err
	}
	if isFlagSet("proxied") {
		cfg.Sync.Proxied = parseProxied(flags.Proxied)
	}

	if flags.Domains == "" {
		return errors.New("-domains is required")
	}
	domains, err := ipsync.ParseDomains(flags.Domains)
	if err != nil {
		return fmt.Errorf("invalid -domains: %w", err)
	}

	sources := make([]ipsync.Source, 0, len(cfg.Sync.Sources))
	for _, s := range cfg.Sync.Sources {
		sources = append(sources, ipsync.Source{Subdomain: s.Subdomain, URL: s.URL})
	}
	options := []ipsync.Option{
		ipsync.UsingCloudflare(token),
		ipsync.UsingSources(sources...),
		ipsync.WithLogger(logger),
		ipsync.WithProxied(cfg.Sync.Proxied),
		ipsync.WithMaxEntries(cfg.Sync.MaxEntries),
		ipsync.WithDrainRounds(cfg.Sync.DrainRounds),
		ipsync.WithFetchTimeout(cfg.Sync.Timeout.Std()),
	}
	if flags.KeepGoing {
		options = append(options, ipsync.KeepGoing())
	}
	if flags.Verify != "" {
		options = append(options, ipsync.WithVerifier(&ipsync.DNSVerifier{Server: flags.Verify}))
	}
	client, err := ipsync.New(options...)
	if err != nil {
		return err
	}

	logger.Infof("records proxied: %t", cfg.Sync.Proxied)
	logger.Infof("domains: %s", strings.Join(domains, ", "))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := client.Run(ctx, domains); err != nil {
		logger.Errorf("sync failed: %s", err)
	}

	if flags.Interval > 0 {
		ipsync.RunDaemon(ctx, client, domains, flags.Interval)
		<-ctx.Done()
		logger.Info("shutting down")
	}
	return nil
}

// resolveToken returns the first token found in the -token flag, $CF_API_TOKEN, and the key file.
func resolveToken() (string, error) {
	if flags.Token != "" {
		return flags.Token, nil
	}
	if token := strings.TrimSpace(os.Getenv("CF_API_TOKEN")); token != "" {
		return token, nil
	}

	if _, err := os.Stat(flags.KeyFile); errors.Is(err, fs.ErrNotExist) {
		logger.Debugf("key file \"%s\" does not exist", flags.KeyFile)
		return "", ErrNoToken
	}
	if err := verifyPermissions(flags.KeyFile); err != nil {
		return "", err
	}
	token, err := readKey(flags.KeyFile)
	if err != nil {
		return "", err
	}
	if token == "" {
		return "", ErrNoToken
	}
	logger.Debug("successfully read key from key file")
	return token, nil
}

// parseProxied treats anything other than "true" as false.
func parseProxied(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s != "true" && s != "false" {
		logger.Warnf("-proxied %q is not \"true\" or \"false\"; treating it as false", s)
	}
	return s == "true"
}

func isFlagSet(name string) (found bool) {
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func runSetup() error {
	logger.Debug("running setup")
	fmt.Fprintf(os.Stderr, "Enter Cloudflare API Token: \n")
	bytekey, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return fmt.Errorf("runSetup: error reading from stdin: %w", err)
	}
	key := strings.TrimSpace(string(bytekey))
	if key == "" {
		return ErrNoToken
	}

	api, err := cloudflare.NewWithAPIToken(key)
	if err != nil {
		return fmt.Errorf("error creating api client: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	logger.Info("verifying token...")
	result, err := api.VerifyAPIToken(ctx)
	if err != nil {
		return fmt.Errorf("unable to verify api token: %w", err)
	}
	if result.Status != "active" {
		return fmt.Errorf("expected api token status to be \"active\"; got \"%s\"", result.Status)
	}
	logger.Info("token verified successfully")

	if err := writeKey(flags.KeyFile, key); err != nil {
		return err
	}
	logger.Infof("token written to \"%s\"", flags.KeyFile)
	return nil
}

// writeKey creates the key file with owner-only permissions. An existing file is never overwritten.
func writeKey(path, key string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("unable to create \"%s\": %w", path, err)
	}
	defer f.Close()
	if _, err := fmt.Fprintln(f, key); err != nil {
		return fmt.Errorf("unable to write \"%s\": %w", path, err)
	}
	return f.Close()
}

// readKey returns the first non-blank line of the key file.
func readKey(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening key file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if key := strings.TrimSpace(scanner.Text()); key != "" {
			return key, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("error reading key file %s: %w", path, err)
	}
	return "", nil
}

// verifyPermissions rejects key files that anyone but the owner can read, or that are not owner-readable.
func verifyPermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("error checking key file %s: %w", path, err)
	}

	switch mode := info.Mode().Perm(); mode {
	case 0600, 0400:
		return nil
	default:
		return fmt.Errorf("key file %s has mode %s; run chmod 600 on it", path, mode)
	}
}
