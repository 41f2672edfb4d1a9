package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ransomeye/rebuild-sub001/pkg/config"
)

// runRunCmd dispatches `run trigger` and `run verify`, operating as a
// thin HTTP client against a running server's /runs endpoints — the
// operator-CLI counterpart to the ingress glue, minting its own
// short-lived service token rather than requiring one to be passed in.
func runRunCmd(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: ransomeye run <trigger|verify> [flags]")
		return 2
	}
	switch args[0] {
	case "trigger":
		return runRunTrigger(args[1:], stdout, stderr)
	case "verify":
		return runRunVerify(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown run subcommand: %s\n", args[0])
		return 2
	}
}

type triggerRequest struct {
	ScenarioType string `json:"scenario_type"`
}

type triggerResponse struct {
	RunID  string `json:"run_id"`
	Status string `json:"status"`
}

func runRunTrigger(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run trigger", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", "http://localhost:8080", "ingress base URL")
	scenarioType := fs.String("scenario", "happy_path", "scenario type to trigger")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	token, err := mintServiceToken(cfg.JWTSecret, "ransomeye-cli")
	if err != nil {
		fmt.Fprintf(stderr, "mint service token: %v\n", err)
		return 1
	}

	body, _ := json.Marshal(triggerRequest{ScenarioType: *scenarioType})
	req, err := http.NewRequest(http.MethodPost, *baseURL+"/runs", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(stderr, "build request: %v\n", err)
		return 1
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(stderr, "trigger run: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var out triggerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 300 {
		fmt.Fprintf(stderr, "%sserver returned %d: %+v%s\n", ColorRed, resp.StatusCode, out, ColorReset)
		return 1
	}

	fmt.Fprintf(stdout, "%srun %s triggered, status=%s%s\n", ColorGreen, out.RunID, out.Status, ColorReset)
	return 0
}

func runRunVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	baseURL := fs.String("url", "http://localhost:8080", "ingress base URL")
	runID := fs.String("id", "", "run ID to verify (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *runID == "" {
		fmt.Fprintln(stderr, "run verify requires -id")
		return 2
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(*baseURL + "/runs/" + *runID + "/verify")
	if err != nil {
		fmt.Fprintf(stderr, "fetch verification: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(stderr, "decode response: %v\n", err)
		return 1
	}
	if resp.StatusCode >= 300 {
		fmt.Fprintf(stderr, "%sserver returned %d: %+v%s\n", ColorRed, resp.StatusCode, out, ColorReset)
		return 1
	}

	encoded, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(stdout, string(encoded))
	return 0
}

// mintServiceToken signs a short-lived ServiceClaims token for this CLI
// invocation to present to requireAuth-protected endpoints, the same
// HS256 shape pkg/ingress.ValidateToken expects.
func mintServiceToken(secret, service string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("RANSOMEYE_JWT_SECRET is not set")
	}
	claims := jwt.MapClaims{
		"service": service,
		"exp":     time.Now().Add(5 * time.Minute).Unix(),
		"iat":     time.Now().Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
