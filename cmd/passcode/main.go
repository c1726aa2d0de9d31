package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/confops/pkg/config"
	"github.com/angelmondragon/confops/pkg/logger"
	"github.com/angelmondragon/confops/pkg/security"
)

// passcode prints the argon2id hash of a dashboard passcode read from stdin,
// ready to paste into CONFOPS_AUTH_<ROLE>_PASSCODE_HASH.
func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "passcode"})

	_ = godotenv.Load()

	role := flag.String("role", "admin", "role the passcode is for: admin|chair|press")
	check := flag.String("verify", "", "existing hash to check the passcode against instead of hashing")
	flag.Parse()

	var cfg config.PasswordConfig
	if full, err := config.Load(); err == nil {
		cfg = full.Password
	} else {
		logg.Warn(ctx, "config not loaded; using default argon2id parameters")
		cfg = config.PasswordConfig{ArgonMemoryKB: 65536, ArgonTime: 3, ArgonParallelism: 2, ArgonSaltLen: 16, ArgonKeyLen: 32}
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		logg.Error(ctx, "failed to read passcode from stdin", err)
		os.Exit(1)
	}
	passcode := strings.TrimRight(line, "\r\n")

	params := security.ParamsFrom(cfg)
	if *check != "" {
		ok, err := security.VerifyPasscode(passcode, *check)
		if err != nil {
			logg.Error(ctx, "hash is not a valid argon2id string", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Println("mismatch")
			os.Exit(2)
		}
		if security.NeedsRehash(*check, params) {
			fmt.Println("match (weaker than current parameters; rehash recommended)")
			return
		}
		fmt.Println("match")
		return
	}

	hash, err := security.HashPasscode(passcode, params)
	if err != nil {
		logg.Error(ctx, "failed to hash passcode", err)
		os.Exit(1)
	}
	fmt.Printf("CONFOPS_AUTH_%s_PASSCODE_HASH=%s\n", strings.ToUpper(strings.TrimSpace(*role)), hash)
}
