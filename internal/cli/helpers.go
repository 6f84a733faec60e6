package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

func ensureOutputDir(path string) error {
	if path == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	return os.MkdirAll(path, 0o755)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}

// promptCredential asks for a token on in. An empty answer or end of input
// means the user declined.
func promptCredential(in io.Reader, out io.Writer, target string) (string, error) {
	fmt.Fprintf(out, "%s could not be read without a credential.\nEnter a token (or user:app-password), empty to skip: ", target)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	fmt.Fprintln(out)
	return strings.TrimSpace(line), nil
}
