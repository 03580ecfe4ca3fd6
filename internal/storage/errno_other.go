//go:build !unix

package storage

func classifyErrno(error) (Kind, string, bool) {
	return "", "", false
}
