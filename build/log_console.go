//go:build !filelog

package build

import "os"

// LoggingType is a log type that writes to the console.
const LoggingType = LogTypeStdOut

// LogTypeStdOut denotes logging to the console only.
const LogTypeStdOut = "stdout"

// Write sends log output to stdout and, once InitLogRotator has run, to
// the rotated on-disk log file.
func (w *LogWriter) Write(b []byte) (int, error) {
	if activeRotator != nil {
		activeRotator.Write(b)
	}
	return os.Stdout.Write(b)
}

// setLogFilePath is a no-op under the console build: InitLogRotator's own
// rotator already writes logFile, so there is no separate file to open.
func setLogFilePath(logFile string) error {
	return nil
}
