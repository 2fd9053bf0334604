package main

import (
	"fmt"
	"net"
	"os"
	"strings"

	"dmsbridge/internal/config"
	"dmsbridge/internal/fanout"
	"dmsbridge/internal/identity"
	"dmsbridge/internal/journal"

	"github.com/spf13/cobra"
)

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *doctorReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *doctorReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the bridge configuration",
		Long: `Verifies the config file, DMS connection settings, alias table,
journal database, listen port and NATS fan-out. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("dmsbridge doctor v%s\n\n", version)
			r := &doctorReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return summarize(r)
			}
			r.pass("Config validation", "valid")

			if missing := settingsFrom(cfg.DMS).Missing(); len(missing) > 0 {
				r.warn("DMS settings", "missing "+strings.Join(missing, ", "))
			} else {
				r.pass("DMS settings", cfg.DMS.APIURL)
			}
			if cfg.DMS.JWTSecret == "" {
				r.warn("Webhook signatures", "no secret, webhooks are accepted unsigned")
			}

			if cfg.Identity.AliasFile != "" {
				if t, err := identity.LoadAliasTable(cfg.Identity.AliasFile); err != nil {
					r.fail("Alias file", err.Error())
				} else {
					r.pass("Alias file", fmt.Sprintf("%s (%d entries)", cfg.Identity.AliasFile, t.Len()))
				}
			}

			if cfg.Journal.Enabled {
				if j, err := journal.Open(cfg.Journal.DBPath, logger); err != nil {
					r.fail("Journal", err.Error())
				} else {
					j.Close()
					r.pass("Journal", cfg.Journal.DBPath)
				}
			}

			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				r.warn("Listen port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
			} else {
				r.pass("Listen port", fmt.Sprintf(":%d available", cfg.Server.Port))
			}

			if cfg.Fanout.Enabled {
				if pub, err := fanout.Connect(fanout.Config{URL: cfg.Fanout.URL, Subject: cfg.Fanout.Subject, Name: "dmsbridge-doctor", Logger: logger}); err != nil {
					r.warn("NATS fan-out", err.Error())
				} else {
					pub.Close()
					r.pass("NATS fan-out", cfg.Fanout.URL)
				}
			}

			return summarize(r)
		},
	}
}

func summarize(r *doctorReport) error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	return ln.Close()
}
