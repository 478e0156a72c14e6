package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// prompter 负责交互输入；密码在终端下不回显。
type prompter interface {
	Password(label string) (string, error)
	Line(label string) (string, error)
	Confirm(label string) (bool, error)
}

type termPrompter struct {
	in  *os.File
	out io.Writer
	r   *bufio.Reader
}

func newTermPrompter(in *os.File, out io.Writer) *termPrompter {
	return &termPrompter{in: in, out: out, r: bufio.NewReader(in)}
}

func (p *termPrompter) Password(label string) (string, error) {
	fmt.Fprint(p.out, label)
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return p.readLine()
	}
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (p *termPrompter) Line(label string) (string, error) {
	fmt.Fprint(p.out, label)
	return p.readLine()
}

func (p *termPrompter) Confirm(label string) (bool, error) {
	answer, err := p.Line(label + " [y/N] ")
	if err != nil {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

func (p *termPrompter) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
