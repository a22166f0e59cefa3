// Command poddbuild builds and installs the Podd analyzer libraries.
package main

import "github.com/jeffersonlab/poddbuild/cmd/poddbuild/internal"

func main() {
	internal.Execute()
}
