package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch command {
	case "upload":
		err = uploadCmd(ctx, args)
	case "download":
		err = downloadCmd(ctx, args)
	case "share":
		err = shareCmd(ctx, args)
	case "unshare":
		err = unshareCmd(ctx, args)
	case "share-info":
		err = shareInfoCmd(ctx, args)
	case "fetch-share":
		err = fetchShareCmd(ctx, args)
	case "config":
		err = configCmd(args)
	case "version":
		fmt.Println("sealbox", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("sealbox - encrypted file storage client")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  sealbox upload [flags] <file>          - Encrypt and upload a file")
	fmt.Println("  sealbox download [flags] <remote>      - Download and decrypt a file")
	fmt.Println("  sealbox share <remote>                 - Create a share link for a file")
	fmt.Println("  sealbox unshare <remote>               - Remove the share of a file")
	fmt.Println("  sealbox share-info <id>                - Show name and size of a share")
	fmt.Println("  sealbox fetch-share [flags] <id> <key> - Download a shared file")
	fmt.Println("  sealbox config [flags]                 - Show or initialize the configuration")
	fmt.Println("  sealbox version                        - Print the version")
	fmt.Println()
	fmt.Println("Run 'sealbox <command> -h' for command-specific help")
}
