//go:build llama

package inproc

// Link against libllama from ./bin, with an $ORIGIN rpath so the shared
// libraries are found next to the built binary at runtime.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lllama
*/
import "C"
