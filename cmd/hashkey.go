package cmd

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"grimm.is/toggled/internal/brand"
)

// RunHashKey prints the bcrypt hash of an API key for api_key_hash. The key
// is read from the first argument, or from stdin when none is given.
func RunHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var key string
	switch fs.NArg() {
	case 0:
		k, err := readKey(os.Stdin)
		if err != nil {
			return err
		}
		key = k
	case 1:
		key = fs.Arg(0)
	default:
		return fmt.Errorf("usage: %s hash-key [-cost n] [key]", brand.BinaryName)
	}

	hash, err := HashKey(key, *cost)
	if err != nil {
		return err
	}
	Printer.Println(hash)
	return nil
}

// HashKey returns the bcrypt hash of key.
func HashKey(key string, cost int) (string, error) {
	if key == "" {
		return "", errors.New("empty API key")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("hash API key: %w", err)
	}
	return string(hash), nil
}

func readKey(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return strings.TrimSpace(line), nil
}
