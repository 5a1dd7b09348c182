/*
Copyright MatrixInfer-AI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logSubsys = "subsys"
)

var (
	defaultLogger  = initDefaultLogger()
	fileOnlyLogger = initFileLogger()

	defaultLogLevel = logrus.InfoLevel
	defaultLogFile  = "/var/run/seqbatch/scheduler.log"

	defaultLogFormat = &logrus.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: false,
	}

	loggerMap = map[string]*logrus.Logger{
		"default":  defaultLogger,
		"fileOnly": fileOnlyLogger,
	}
)

// SetLoggerLevel adjusts the verbosity of a named logger.
func SetLoggerLevel(loggerName string, level logrus.Level) error {
	logger, exists := loggerMap[loggerName]
	if !exists || logger == nil {
		return fmt.Errorf("logger %s does not exist", loggerName)
	}
	logger.SetLevel(level)
	return nil
}

// GetLoggerLevel reports the current verbosity of a named logger.
func GetLoggerLevel(loggerName string) (logrus.Level, error) {
	logger, exists := loggerMap[loggerName]
	if !exists || logger == nil {
		return 0, fmt.Errorf("logger %s does not exist", loggerName)
	}
	return logger.Level, nil
}

// GetLoggerNames lists the registered loggers.
func GetLoggerNames() []string {
	names := make([]string, 0, len(loggerMap))
	for loggerName := range loggerMap {
		names = append(names, loggerName)
	}
	return names
}

func initDefaultLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(defaultLogFormat)
	logger.SetLevel(defaultLogLevel)
	return logger
}

func initFileLogger() *logrus.Logger {
	logger := initDefaultLogger()
	logFilePath := defaultLogFile
	path, fileName := filepath.Split(logFilePath)
	if err := os.MkdirAll(path, 0o700); err != nil {
		logger.Warnf("failed to create log directory: %v, consider running with root user", err)
		// if error occurs, fall back to current working directory
		logFilePath = fileName
	}

	logfile := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    100, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   false,
	}
	logger.SetOutput(io.Writer(logfile))
	return logger
}

// New allocates a log entry scoped to a scheduler subsystem, e.g. the
// coordinator or a specific batcher.
func New(subsys string) *logrus.Entry {
	if subsys == "" {
		return logrus.NewEntry(defaultLogger)
	}
	return defaultLogger.WithField(logSubsys, subsys)
}

// NewFile allocates a log entry that writes only to the rotating log file,
// never to stdout.
func NewFile(subsys string) *logrus.Entry {
	if subsys == "" {
		return logrus.NewEntry(fileOnlyLogger)
	}
	return fileOnlyLogger.WithField(logSubsys, subsys)
}
