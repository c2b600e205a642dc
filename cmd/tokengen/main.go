// Package main provides a CLI tool for minting relay credential tokens that
// the warden relay routes accept. Tokens are signed with JWT_SIGNING_KEY, or a
// dev key when it is unset, and must not be used in production.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	authmw "warden/pkg/platform/middleware/auth"
)

const (
	// Dev signing key used when JWT_SIGNING_KEY is not set
	devSigningKey = "dev-secret-key-change-in-production"

	defaultTokenTTL = 24 * time.Hour
)

type tokenOutput struct {
	Token     string            `json:"token"`
	Type      string            `json:"type"`
	ExpiresIn string            `json:"expires_in,omitempty"`
	Claims    map[string]any    `json:"claims,omitempty"`
	Usage     map[string]string `json:"usage"`
}

func main() {
	relayCmd := flag.NewFlagSet("relay", flag.ExitOnError)
	adminCmd := flag.NewFlagSet("admin", flag.ExitOnError)

	tokenID := relayCmd.String("token-id", "", "Token ID. Generated if empty.")
	tokenName := relayCmd.String("token-name", "dev-token", "Human readable token name")
	userID := relayCmd.String("user-id", "1", "Owning user ID")
	groups := relayCmd.String("groups", "default", "Comma-separated groups")
	ttl := relayCmd.Duration("ttl", defaultTokenTTL, "Token time-to-live")
	relayJSON := relayCmd.Bool("json", false, "Output as JSON")

	adminJSON := adminCmd.Bool("json", false, "Output as JSON")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "relay":
		_ = relayCmd.Parse(os.Args[2:])
		generateRelayToken(*tokenID, *tokenName, *userID, *groups, *ttl, *relayJSON)
	case "admin":
		_ = adminCmd.Parse(os.Args[2:])
		showAdminToken(*adminJSON)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`tokengen - Generate credential tokens for the warden relay

WARNING: Without JWT_SIGNING_KEY these tokens use a dev signing key.
         Only use for local development and testing.

Usage:
  tokengen <command> [flags]

Commands:
  relay     Generate a relay credential token (JWT)
  admin     Show the admin API token from ADMIN_TOKEN

Examples:
  # Generate a token with defaults
  tokengen relay

  # Generate a token for a whitelisted group
  tokengen relay -user-id 42 -groups vip,default

  # Output as JSON
  tokengen relay -json

Use "tokengen <command> -h" for more information about a command.`)
}

func signingKey() (string, string) {
	if key := os.Getenv("JWT_SIGNING_KEY"); key != "" {
		return key, "env"
	}
	return devSigningKey, "dev"
}

func generateRelayToken(tokenID, tokenName, userID, groups string, ttl time.Duration, jsonOutput bool) {
	key, keyType := signingKey()
	validator, err := authmw.NewJWTValidator(key, os.Getenv("JWT_ISSUER"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating signer: %v\n", err)
		os.Exit(1)
	}

	if tokenID == "" {
		tokenID = uuid.NewString()
	}
	groupList := parseGroups(groups)
	now := time.Now()

	token, err := validator.Sign(authmw.TokenClaims{
		TokenID:   tokenID,
		TokenName: tokenName,
		UserID:    userID,
		Groups:    groupList,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		printJSON(tokenOutput{
			Token:     token,
			Type:      "relay_token",
			ExpiresIn: ttl.String(),
			Claims: map[string]any{
				"token_id":   tokenID,
				"token_name": tokenName,
				"user_id":    userID,
				"groups":     groupList,
			},
			Usage: map[string]string{
				"header":      "Authorization: Bearer <token>",
				"signing_key": keyType,
			},
		})
		return
	}

	fmt.Println("Relay Token (JWT)")
	fmt.Println("=================")
	fmt.Printf("Signing Key: %s\n", keyType)
	fmt.Printf("Expires In:  %s\n", ttl)
	fmt.Printf("Token ID:    %s\n", tokenID)
	fmt.Printf("Token Name:  %s\n", tokenName)
	fmt.Printf("User ID:     %s\n", userID)
	fmt.Printf("Groups:      %v\n", groupList)
	fmt.Println()
	fmt.Println("Token:")
	fmt.Println(token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"Authorization: Bearer <token>\" http://localhost:8080/v1/chat/completions")
}

func showAdminToken(jsonOutput bool) {
	token := os.Getenv("ADMIN_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "ADMIN_TOKEN is not set; admin routes reject every request")
		os.Exit(1)
	}
	if jsonOutput {
		printJSON(tokenOutput{
			Token: token,
			Type:  "admin_token",
			Usage: map[string]string{
				"header": "X-Admin-Token: " + token,
			},
		})
		return
	}
	fmt.Println("Admin API Token")
	fmt.Println("===============")
	fmt.Printf("Token: %s\n", token)
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  curl -H \"X-Admin-Token: " + token + "\" -H \"X-Admin-Actor-ID: you\" http://localhost:8080/api/security/settings")
}

func parseGroups(groups string) []string {
	if groups == "" {
		return []string{}
	}
	parts := strings.Split(groups, ",")
	result := make([]string, 0, len(parts))
	for _, s := range parts {
		trimmed := strings.TrimSpace(s)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}
