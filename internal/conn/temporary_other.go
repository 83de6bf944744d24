//go:build !unix

package conn

func isTemporaryAcceptError(err error) bool {
	return isTimeout(err)
}
