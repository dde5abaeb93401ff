package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// printlnFn is a test seam for user-facing output. In tests, replace it with a stub.
var printlnFn = fmt.Println

// execIface defines the command surface the REPL dispatches to. The real App
// satisfies it; tests provide a lightweight stub.
type execIface interface {
	isSignedIn() bool
	SignIn(ctx context.Context) error
	SignOut(ctx context.Context) error
	Status(ctx context.Context) error
	Profiles(ctx context.Context) error
	AddProfile(ctx context.Context) error
	Students(ctx context.Context) error
	AddStudent(ctx context.Context) error
	Attend(ctx context.Context) error
	Delete(ctx context.Context) error
	Sync(ctx context.Context) error
	Pull(ctx context.Context) error
	Migrate(ctx context.Context) error
	Retry(ctx context.Context) error
	Log(ctx context.Context) error
	Backup(ctx context.Context) error
}

const (
	helpGuest  = "Available commands: signin, status, profiles, addprofile, students, addstudent, attend, delete, log, exit"
	helpSigned = "Available commands: signout, status, profiles, addprofile, students, addstudent, attend, delete, sync, pull, migrate, retry, log, backup, exit"
)

func commands(a execIface) map[string]func(context.Context) error {
	return map[string]func(context.Context) error{
		"signin":     a.SignIn,
		"signout":    a.SignOut,
		"status":     a.Status,
		"profiles":   a.Profiles,
		"addprofile": a.AddProfile,
		"students":   a.Students,
		"addstudent": a.AddStudent,
		"attend":     a.Attend,
		"delete":     a.Delete,
		"sync":       a.Sync,
		"pull":       a.Pull,
		"migrate":    a.Migrate,
		"retry":      a.Retry,
		"log":        a.Log,
		"backup":     a.Backup,
	}
}

// runREPL reads commands from reader until EOF, "exit" or "quit". The prompt
// shows statusFn. Command errors are printed and the loop continues.
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader) {
	handlers := commands(a)
	for {
		printlnFn(fmt.Sprintf("ak %s> ", statusFn()))
		line, err := reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd := parts[0]

		switch cmd {
		case "help":
			if a.isSignedIn() {
				printlnFn(helpSigned)
			} else {
				printlnFn(helpGuest)
			}
			continue
		case "exit", "quit":
			printlnFn("Bye!")
			return
		}

		h, ok := handlers[cmd]
		if !ok {
			printlnFn("Unknown command:", cmd)
			continue
		}
		if err := h(ctx); err != nil {
			printlnFn("Error:", err)
		}
	}
}
