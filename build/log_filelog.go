//go:build filelog

package build

import "os"

var logf *os.File

// LoggingType is a log type that writes to a file.
const LoggingType = LogTypeFile

// LogTypeFile denotes logging to a flat file instead of the console.
const LogTypeFile = "file"

// Write appends to the process-wide log file.
func (w *LogWriter) Write(b []byte) (int, error) {
	if logf == nil {
		return len(b), nil
	}
	return logf.Write(b)
}

// setLogFilePath opens logf at the same path InitLogRotator was given,
// replacing any previously open file. Under this build tag the flat file
// is the only sink: logging before InitLogRotator runs is silently dropped
// rather than panicking on a nil logf.
func setLogFilePath(logFile string) error {
	f, err := os.Create(logFile)
	if err != nil {
		return err
	}
	if logf != nil {
		logf.Close()
	}
	logf = f
	return nil
}
