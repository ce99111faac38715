//go:build !unix

package localfile

import "os"

// Only the in-process mutex applies here.
func lockFile(*os.File) error { return nil }

func unlockFile(*os.File) error { return nil }
