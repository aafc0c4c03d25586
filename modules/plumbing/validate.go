package plumbing

import (
	"fmt"
	"strings"
)

type ErrBadName struct {
	Name string
}

func (err ErrBadName) Error() string {
	return fmt.Sprintf("bad name: '%s'", err.Name)
}

func IsErrBadName(err error) bool {
	_, ok := err.(ErrBadName)
	return ok
}

type ErrBadFilePath struct {
	Path string
}

func (err ErrBadFilePath) Error() string {
	return fmt.Sprintf("bad file path: '%s'", err.Path)
}

func IsErrBadFilePath(err error) bool {
	_, ok := err.(ErrBadFilePath)
	return ok
}

/*
 * How to handle various characters in file path components:
 * 0: An acceptable character
 * 1: End-of-component ('/')
 * 2: '.', acceptable inside a component, rejected at the front
 * 4: A bad character: ASCII control characters, and
 *    ":", "?", "[", "\", "^", "~", "*", SP, TAB, DEL
 */
var pathDisposition = [256]byte{
	4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4,
	4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4, 4,
	4, 0, 4, 0, 0, 0, 0, 4, 0, 0, 4, 0, 0, 0, 2, 1,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 4, 0, 4, 4,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4, 4, 0, 4, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 4, 0, 4, 4,
}

// nameDisposition marks the bytes allowed in project and repository
// names: ASCII letters, digits, '_' and '-'.
var nameDisposition = func() [256]bool {
	var a [256]bool
	for c := 'A'; c <= 'Z'; c++ {
		a[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		a[c] = true
	}
	for c := '0'; c <= '9'; c++ {
		a[c] = true
	}
	a['_'] = true
	a['-'] = true
	return a
}()

const MAX_NAME_LEN = 63

// ValidateName reports whether s is acceptable as a project or
// repository name.
func ValidateName(s string) bool {
	if len(s) == 0 || len(s) > MAX_NAME_LEN {
		return false
	}
	for _, b := range []byte(s) {
		if !nameDisposition[b] {
			return false
		}
	}
	return true
}

// A leading '.' covers ".", ".." and dotfiles in one check; dots inside
// a component stay legal ("cluster.json").
func checkFilePathComponent(component string) bool {
	if len(component) == 0 || component[0] == '.' {
		return false
	}
	for i := 0; i < len(component); i++ {
		switch pathDisposition[component[i]&255] {
		case 1, 4:
			return false
		}
	}
	return true
}

// ValidateFilePath reports whether p is a well formed repository file
// path: absolute, '/'-separated, every component non-empty and free of
// traversal segments and control characters.
func ValidateFilePath(p string) bool {
	if len(p) < 2 || p[0] != '/' || strings.HasSuffix(p, "/") {
		return false
	}
	for _, component := range strings.Split(p[1:], "/") {
		if !checkFilePathComponent(component) {
			return false
		}
	}
	return true
}

// ValidateDirPath is ValidateFilePath relaxed to accept "/" and a
// trailing slash, the forms directory listings take.
func ValidateDirPath(p string) bool {
	if p == "/" {
		return true
	}
	return ValidateFilePath(strings.TrimSuffix(p, "/"))
}
