package domain

// ToolEnvironment is one snapshot of the external tools needed for a batch.
// Empty paths mean the executable was not found.
type ToolEnvironment struct {
	Enc2LyPath       string `json:"enc2lyPath,omitempty"`
	PythonPath       string `json:"pythonPath,omitempty"`
	LibraryInstalled bool   `json:"libraryInstalled"`
}

// Enc2LyAvailable reports whether the stage 1 converter was located.
func (e ToolEnvironment) Enc2LyAvailable() bool {
	return e.Enc2LyPath != ""
}

// LibraryAvailable reports whether the interpreter was located and can import the library.
func (e ToolEnvironment) LibraryAvailable() bool {
	return e.PythonPath != "" && e.LibraryInstalled
}

// AllReady gates batch execution.
func (e ToolEnvironment) AllReady() bool {
	return e.Enc2LyAvailable() && e.LibraryAvailable()
}
