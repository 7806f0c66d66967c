package cli

import (
	"bufio"
	"io"
	"os"
	"strings"
)

// Read returns the whitespace separated words of r, skipping blank lines
func Read(r io.Reader) []string {
	args := []string{}
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		args = append(args, strings.Fields(scanner.Text())...)
	}
	return args
}

// Input returns f when it is piped or redirected and an empty reader when it
// is a terminal, so commands never block waiting for a user to type ids
func Input(f *os.File) io.Reader {
	fi, err := f.Stat()
	if err != nil || fi.Mode()&os.ModeCharDevice != 0 {
		return strings.NewReader("")
	}
	return f
}
