// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package stage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// runCapture runs name with args under dir, bounded by timeout, returning
// trimmed stdout. Stderr is attached to a returned error's message.
func runCapture(ctx context.Context, dir, name string, args []string, stdin string, timeout time.Duration) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", name, errMsg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// runGenerator invokes the gen.py generator script once, passing the case
// index as its sole argument, and returns the generated input on stdout.
func runGenerator(ctx context.Context, scriptPath string, index int, timeout time.Duration) (string, error) {
	return runCapture(ctx, filepath.Dir(scriptPath), "python3", []string{scriptPath, fmt.Sprintf("%d", index)}, "", timeout)
}

// runReferenceSolution compiles (if needed) and runs a reference solution
// against input, returning its stdout as the expected output. compiler
// selects the toolchain for compiled extensions (e.g. "g++" for cpp);
// interpreted extensions (py) run directly.
func runReferenceSolution(ctx context.Context, workDir, ext, code, compiler string, input string, compileTimeout, runTimeout time.Duration) (string, error) {
	switch ext {
	case "py":
		srcPath := filepath.Join(workDir, "solution.py")
		if err := os.WriteFile(srcPath, []byte(code), 0o644); err != nil {
			return "", fmt.Errorf("writing solution.py: %w", err)
		}
		return runCapture(ctx, workDir, "python3", []string{srcPath}, input, runTimeout)
	case "cpp", "cc":
		srcPath := filepath.Join(workDir, "solution."+ext)
		binPath := filepath.Join(workDir, "solution.bin")
		if err := os.WriteFile(srcPath, []byte(code), 0o644); err != nil {
			return "", fmt.Errorf("writing solution.%s: %w", ext, err)
		}
		if _, err := runCapture(ctx, workDir, compiler, []string{"-O2", "-o", binPath, srcPath}, "", compileTimeout); err != nil {
			return "", fmt.Errorf("compiling: %w", err)
		}
		return runCapture(ctx, workDir, binPath, nil, input, runTimeout)
	default:
		return "", fmt.Errorf("unsupported reference solution extension %q", ext)
	}
}
