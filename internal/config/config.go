package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config represents the fskmodem configuration
type Config struct {
	filename string

	// Audio section
	audioRxDevice string
	audioTxDevice string
	audioRxName   string
	audioTxName   string

	// Modem section
	modemCommand      string
	modemBaud         string
	modemMarkHz       float64
	modemSpaceHz      float64
	modemConfidence   float64
	modemSyncByte     *byte
	modemEagerTx      bool
	modemRespawn      bool
	modemTxTrailDelay uint32 // milliseconds
	modemSendBusyFail bool
	modemStartTimeout uint32 // seconds
	modemStopGrace    uint32 // seconds
	modemReadyLine    string
	modemDebug        bool

	// Framing section
	framingMode     string
	framingMaxFrame uint32
	framingEOM      []uint8

	// PTT section
	pttType         string
	pttDevice       string
	pttLine         string
	pttAddress      string
	pttFrequency    uint64
	pttAbortOnError bool

	// KISS section
	kissEnabled  bool
	kissAddress  string
	kissMaxFrame uint32

	// Logbook section
	logbookEnabled   bool
	logbookPath      string
	logbookQueueSize uint32

	// Log section
	logDisplayLevel uint32
	logFileLevel    uint32
	logFilePath     string
	logFileRoot     string
}

// NewConfig creates a new configuration instance
func NewConfig(filename string) *Config {
	return &Config{
		filename: filename,
		// Set reasonable defaults
		modemCommand:      "minimodem",
		modemBaud:         "300",
		modemConfidence:   1.5,
		modemTxTrailDelay: 500,
		modemStartTimeout: 10,
		modemStopGrace:    5,

		framingMode: "hdlc",

		kissAddress: "127.0.0.1:8001",

		logbookPath:      "data/logbook.db",
		logbookQueueSize: 128,
	}
}

// Load loads configuration from the specified file
func (c *Config) Load() error {
	file, err := os.Open(c.filename)
	if err != nil {
		return fmt.Errorf("failed to open config file %s: %v", c.filename, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	return c.parseINIScanner(scanner)
}

// LoadFromString loads configuration from a string (useful for testing)
func (c *Config) LoadFromString(data string) error {
	scanner := bufio.NewScanner(strings.NewReader(data))
	return c.parseINIScanner(scanner)
}

func (c *Config) parseINIScanner(scanner *bufio.Scanner) error {
	var currentSection string

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		// Check for section header
		if line[0] == '[' && line[len(line)-1] == ']' {
			currentSection = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		// Parse key=value pairs
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch currentSection {
		case "Audio":
			c.parseAudioSection(key, value)
		case "Modem":
			c.parseModemSection(key, value)
		case "Framing":
			c.parseFramingSection(key, value)
		case "PTT":
			c.parsePTTSection(key, value)
		case "KISS":
			c.parseKISSSection(key, value)
		case "Logbook":
			c.parseLogbookSection(key, value)
		case "Log":
			c.parseLogSection(key, value)
		}
	}

	return scanner.Err()
}

func (c *Config) parseAudioSection(key, value string) {
	switch key {
	case "RxDevice":
		c.audioRxDevice = value
	case "TxDevice":
		c.audioTxDevice = value
	case "RxName":
		c.audioRxName = value
	case "TxName":
		c.audioTxName = value
	}
}

func (c *Config) parseModemSection(key, value string) {
	switch key {
	case "Command":
		c.modemCommand = value
	case "Baud":
		c.modemBaud = value
	case "MarkHz":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.modemMarkHz = v
		}
	case "SpaceHz":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.modemSpaceHz = v
		}
	case "Confidence":
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			c.modemConfidence = v
		}
	case "SyncByte":
		if v, ok := c.parseByteValue(value); ok {
			b := v
			c.modemSyncByte = &b
		}
	case "EagerTx":
		c.modemEagerTx = c.parseBool(value)
	case "Respawn":
		c.modemRespawn = c.parseBool(value)
	case "TxTrailDelay":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.modemTxTrailDelay = uint32(v)
		}
	case "SendBusyFail":
		c.modemSendBusyFail = c.parseBool(value)
	case "StartTimeout":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.modemStartTimeout = uint32(v)
		}
	case "StopGrace":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.modemStopGrace = uint32(v)
		}
	case "ReadyLine":
		c.modemReadyLine = value
	case "Debug":
		c.modemDebug = c.parseBool(value)
	}
}

func (c *Config) parseFramingSection(key, value string) {
	switch key {
	case "Mode":
		c.framingMode = strings.ToLower(value)
	case "MaxFrame":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.framingMaxFrame = uint32(v)
		}
	case "EOM":
		c.framingEOM = c.parseByteArray(value)
	}
}

func (c *Config) parsePTTSection(key, value string) {
	switch key {
	case "Type":
		c.pttType = strings.ToLower(value)
	case "Device":
		c.pttDevice = value
	case "Line":
		c.pttLine = strings.ToLower(value)
	case "Address":
		c.pttAddress = value
	case "Frequency":
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			c.pttFrequency = v
		}
	case "AbortOnError":
		c.pttAbortOnError = c.parseBool(value)
	}
}

func (c *Config) parseKISSSection(key, value string) {
	switch key {
	case "Enable":
		c.kissEnabled = c.parseBool(value)
	case "Address":
		c.kissAddress = value
	case "MaxFrame":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.kissMaxFrame = uint32(v)
		}
	}
}

func (c *Config) parseLogbookSection(key, value string) {
	switch key {
	case "Enable":
		c.logbookEnabled = c.parseBool(value)
	case "Path":
		c.logbookPath = value
	case "QueueSize":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.logbookQueueSize = uint32(v)
		}
	}
}

func (c *Config) parseLogSection(key, value string) {
	switch key {
	case "DisplayLevel":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.logDisplayLevel = uint32(v)
		}
	case "FileLevel":
		if v, err := strconv.ParseUint(value, 10, 32); err == nil {
			c.logFileLevel = uint32(v)
		}
	case "FilePath":
		c.logFilePath = value
	case "FileRoot":
		c.logFileRoot = value
	}
}

func (c *Config) parseBool(value string) bool {
	return value == "1" || strings.ToLower(value) == "true" || strings.ToLower(value) == "yes"
}

func (c *Config) parseByteArray(value string) []uint8 {
	parts := strings.Split(value, ",")
	result := make([]uint8, 0, len(parts))

	for _, part := range parts {
		if v, ok := c.parseByteValue(strings.TrimSpace(part)); ok {
			result = append(result, v)
		}
	}

	return result
}

// parseByteValue accepts decimal or 0x-prefixed hex
func (c *Config) parseByteValue(value string) (uint8, bool) {
	v, err := strconv.ParseUint(value, 0, 8)
	if err != nil {
		return 0, false
	}
	return uint8(v), true
}

// Getter methods for Audio section
func (c *Config) GetAudioRxDevice() string { return c.audioRxDevice }
func (c *Config) GetAudioTxDevice() string { return c.audioTxDevice }
func (c *Config) GetAudioRxName() string   { return c.audioRxName }
func (c *Config) GetAudioTxName() string   { return c.audioTxName }

// Getter methods for Modem section
func (c *Config) GetModemCommand() string      { return c.modemCommand }
func (c *Config) GetModemBaud() string         { return c.modemBaud }
func (c *Config) GetModemMarkHz() float64      { return c.modemMarkHz }
func (c *Config) GetModemSpaceHz() float64     { return c.modemSpaceHz }
func (c *Config) GetModemConfidence() float64  { return c.modemConfidence }
func (c *Config) GetModemSyncByte() *byte      { return c.modemSyncByte }
func (c *Config) GetModemEagerTx() bool        { return c.modemEagerTx }
func (c *Config) GetModemRespawn() bool        { return c.modemRespawn }
func (c *Config) GetModemTxTrailDelay() uint32 { return c.modemTxTrailDelay }
func (c *Config) GetModemSendBusyFail() bool   { return c.modemSendBusyFail }
func (c *Config) GetModemStartTimeout() uint32 { return c.modemStartTimeout }
func (c *Config) GetModemStopGrace() uint32    { return c.modemStopGrace }
func (c *Config) GetModemReadyLine() string    { return c.modemReadyLine }
func (c *Config) GetModemDebug() bool          { return c.modemDebug }

// Getter methods for Framing section
func (c *Config) GetFramingMode() string     { return c.framingMode }
func (c *Config) GetFramingMaxFrame() uint32 { return c.framingMaxFrame }
func (c *Config) GetFramingEOM() []uint8     { return c.framingEOM }

// Getter methods for PTT section
func (c *Config) GetPTTType() string       { return c.pttType }
func (c *Config) GetPTTDevice() string     { return c.pttDevice }
func (c *Config) GetPTTLine() string       { return c.pttLine }
func (c *Config) GetPTTAddress() string    { return c.pttAddress }
func (c *Config) GetPTTFrequency() uint64  { return c.pttFrequency }
func (c *Config) GetPTTAbortOnError() bool { return c.pttAbortOnError }

// Getter methods for KISS section
func (c *Config) GetKISSEnabled() bool    { return c.kissEnabled }
func (c *Config) GetKISSAddress() string  { return c.kissAddress }
func (c *Config) GetKISSMaxFrame() uint32 { return c.kissMaxFrame }

// Getter methods for Logbook section
func (c *Config) GetLogbookEnabled() bool     { return c.logbookEnabled }
func (c *Config) GetLogbookPath() string      { return c.logbookPath }
func (c *Config) GetLogbookQueueSize() uint32 { return c.logbookQueueSize }

// Getter methods for Log section
func (c *Config) GetLogDisplayLevel() uint32 { return c.logDisplayLevel }
func (c *Config) GetLogFileLevel() uint32    { return c.logFileLevel }
func (c *Config) GetLogFilePath() string     { return c.logFilePath }
func (c *Config) GetLogFileRoot() string     { return c.logFileRoot }
