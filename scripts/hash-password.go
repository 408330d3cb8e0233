package main

import (
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/paynow/approval-server/internal/util"
)

// Prints an OPERATOR_TOKEN_HASH. With no argument a random token is
// generated and printed alongside its hash.
func main() {
	var token string
	switch len(os.Args) {
	case 1:
		generated, err := util.GenerateToken()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		token = generated
		fmt.Printf("token: %s\n", token)
	case 2:
		token = os.Args[1]
	default:
		fmt.Fprintf(os.Stderr, "Usage: go run scripts/hash-password.go [token]\n")
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), 12)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if len(os.Args) == 1 {
		fmt.Printf("OPERATOR_TOKEN_HASH=%s\n", hash)
		return
	}
	fmt.Println(string(hash))
}
