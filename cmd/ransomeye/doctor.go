package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/ransomeye/rebuild-sub001/pkg/config"
	"github.com/ransomeye/rebuild-sub001/pkg/cryptokernel"
)

// runDoctorCmd runs a checklist of configuration and connectivity checks,
// printing a colored pass/fail line per check and exiting 1 if any check
// failed.
func runDoctorCmd(stdout, stderr io.Writer) int {
	fmt.Fprintf(stdout, "%sRansomEye doctor%s\n\n", ColorBold+ColorBlue, ColorReset)
	cfg := config.Load()
	ok := true

	check(stdout, &ok, "registry DSN configured", cfg.RegistryDSN != "", cfg.RegistryDSN)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := sql.Open("postgres", cfg.RegistryDSN)
	if err == nil {
		err = db.PingContext(ctx)
	}
	check(stdout, &ok, "postgres reachable", err == nil, detailOrError(cfg.RegistryDSN, err))
	if db != nil {
		_ = db.Close()
	}

	_, privErr := os.Stat(cfg.PrivateKeyPath)
	_, pubErr := os.Stat(cfg.PublicKeyPath)
	keysExist := privErr == nil && pubErr == nil
	if keysExist {
		check(stdout, &ok, "signing key present", true, cfg.PrivateKeyPath)
	} else {
		kernel, genErr := cryptokernel.LoadOrGenerate(cfg.PrivateKeyPath, cfg.PublicKeyPath)
		check(stdout, &ok, "signing key present (generated)", genErr == nil, cfg.PrivateKeyPath)
		if genErr == nil {
			_ = kernel
		}
	}

	check(stdout, &ok, "storage root writable", isWritableDir(cfg.StorageRoot), cfg.StorageRoot)
	check(stdout, &ok, "rules file present", fileExists(cfg.RulesPath), cfg.RulesPath)
	check(stdout, &ok, "JWT secret configured", cfg.JWTSecret != "", "RANSOMEYE_JWT_SECRET")

	fmt.Fprintln(stdout, "")
	if ok {
		fmt.Fprintf(stdout, "%sAll checks passed.%s\n", ColorGreen, ColorReset)
		return 0
	}
	fmt.Fprintf(stderr, "%sOne or more checks failed.%s\n", ColorRed, ColorReset)
	return 1
}

func check(w io.Writer, ok *bool, name string, passed bool, detail string) {
	mark := ColorGreen + "OK  " + ColorReset
	if !passed {
		mark = ColorRed + "FAIL" + ColorReset
		*ok = false
	}
	fmt.Fprintf(w, "  [%s] %-32s %s%s%s\n", mark, name, ColorGray, detail, ColorReset)
}

func detailOrError(detail string, err error) string {
	if err != nil {
		return err.Error()
	}
	return detail
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func isWritableDir(path string) bool {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return false
	}
	probe := path + "/.doctor_probe"
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return false
	}
	_ = os.Remove(probe)
	return true
}
