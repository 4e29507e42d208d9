package types

// DecompileOutcome records one (input, decompiler) attempt.
// OutputDir is <working_dir>/<stem><output_suffix>/<binary_name>.
// Files is the recursive set of regular files under OutputDir on success,
// nil on failure.
type DecompileOutcome struct {
	InputPath string
	Binary    string
	OutputDir string
	Files     []string
	OK        bool
}
