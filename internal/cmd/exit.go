package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/fulmenhq/gofulmen/errors"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"
)

var osExit = os.Exit

// ExitWithCode logs err with the foundry exit code metadata and terminates the
// process. A nil logger falls back to plain stderr output.
func ExitWithCode(logger *logging.Logger, exitCode foundry.ExitCode, msg string, err error) {
	info, known := foundry.GetExitCodeInfo(exitCode)
	if logger == nil || !known {
		writeFatal(os.Stderr, exitCode, msg, err)
		osExit(exitStatus(exitCode))
		return
	}

	fields := []zap.Field{
		zap.Int("exit_code", info.Code),
		zap.String("exit_name", info.Name),
		zap.String("exit_category", info.Category),
	}
	fields = append(fields, envelopeFields(err)...)
	logger.Error(msg, fields...)
	osExit(info.Code)
}

// ExitWithCodeStderr is ExitWithCode for failures before a logger exists.
func ExitWithCodeStderr(exitCode foundry.ExitCode, msg string, err error) {
	writeFatal(os.Stderr, exitCode, msg, err)
	osExit(exitStatus(exitCode))
}

func exitStatus(code foundry.ExitCode) int {
	if info, known := foundry.GetExitCodeInfo(code); known {
		return info.Code
	}
	return int(code)
}

// envelopeFields expands a gofulmen envelope into log fields and logs the
// wrapped cause rather than the envelope itself.
func envelopeFields(err error) []zap.Field {
	envelope, ok := err.(*errors.ErrorEnvelope)
	if !ok {
		return []zap.Field{zap.Error(err)}
	}
	fields := []zap.Field{
		zap.String("error_code", envelope.Code),
		zap.String("error_message", envelope.Message),
		zap.String("correlation_id", envelope.CorrelationID),
	}
	if envelope.Context != nil {
		fields = append(fields, zap.Any("error_context", envelope.Context))
	}
	if cause, ok := envelope.Original.(error); ok && cause != nil {
		return append(fields, zap.Error(cause))
	}
	return append(fields, zap.Error(err))
}

func writeFatal(w io.Writer, exitCode foundry.ExitCode, msg string, err error) {
	switch envelope, ok := err.(*errors.ErrorEnvelope); {
	case ok:
		_, _ = fmt.Fprintf(w, "FATAL: %s [%s]: %s\n", msg, envelope.Code, envelope.Message)
		if cause, ok := envelope.Original.(error); ok && cause != nil {
			_, _ = fmt.Fprintf(w, "Cause: %v\n", cause)
		}
	case err != nil:
		_, _ = fmt.Fprintf(w, "FATAL: %s: %v\n", msg, err)
	default:
		_, _ = fmt.Fprintf(w, "FATAL: %s\n", msg)
	}

	if info, known := foundry.GetExitCodeInfo(exitCode); known {
		_, _ = fmt.Fprintf(w, "Exit Code: %d (%s) - %s\n", info.Code, info.Name, info.Description)
	} else {
		_, _ = fmt.Fprintf(w, "Exit Code: %d\n", exitCode)
	}
}
