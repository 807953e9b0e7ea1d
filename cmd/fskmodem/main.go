package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kb1gnu/fskmodem/internal/audio"
	"github.com/kb1gnu/fskmodem/internal/config"
	"github.com/kb1gnu/fskmodem/internal/framing"
	"github.com/kb1gnu/fskmodem/internal/kiss"
	"github.com/kb1gnu/fskmodem/internal/logbook"
	"github.com/kb1gnu/fskmodem/internal/modem"
	"github.com/kb1gnu/fskmodem/internal/ptt"
)

const VERSION = "1.0.0"

const statsInterval = 60 * time.Second

var rootFlags = struct {
	configFile *string
	version    *bool
}{}

var rootCmd = &cobra.Command{
	Use:   "fskmodem",
	Short: "An AFSK soft modem built around an external minimodem engine",
	RunE:  root,
}

func init() {
	rootFlags.configFile = rootCmd.PersistentFlags().StringP("config", "c", "fskmodem.ini", "Configuration file path")
	rootFlags.version = rootCmd.Flags().BoolP("version", "V", false, "Show version information")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func root(cmd *cobra.Command, args []string) error {
	if *rootFlags.version {
		fmt.Printf("fskmodem v%s\n", VERSION)
		return nil
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("fskmodem v%s starting with config: %s", VERSION, *rootFlags.configFile)

	cfg := config.NewConfig(*rootFlags.configFile)
	if err := cfg.Load(); err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}

	logger := log.New(os.Stdout, "", log.LstdFlags)

	modemCfg, err := buildModemConfig(cfg, logger)
	if err != nil {
		return err
	}

	m, err := modem.New(modemCfg)
	if err != nil {
		return fmt.Errorf("failed to create modem: %v", err)
	}

	// Logbook, when enabled, records both directions without
	// blocking the radio paths
	var book *logbook.Writer
	if cfg.GetLogbookEnabled() {
		db, err := logbook.NewDB(logbook.Config{Path: cfg.GetLogbookPath()}, logger)
		if err != nil {
			return fmt.Errorf("failed to open logbook: %v", err)
		}
		defer db.Close()
		book = logbook.NewWriter(logbook.NewEntryRepository(db.GetDB()), int(cfg.GetLogbookQueueSize()), logger)
		defer book.Close()
	}

	// KISS server hands client data frames to the modem and fans
	// received payloads back out
	var server *kiss.Server
	if cfg.GetKISSEnabled() {
		server, err = kiss.NewServer(kiss.Config{
			Address:  cfg.GetKISSAddress(),
			MaxFrame: int(cfg.GetKISSMaxFrame()),
			Logger:   logger,
			Debug:    cfg.GetModemDebug(),
		}, &loggedSender{modem: m, book: book})
		if err != nil {
			return fmt.Errorf("failed to create KISS server: %v", err)
		}
	}

	m.SetReceiveConsumer(func(payload []byte) {
		logger.Printf("RX %d bytes", len(payload))
		if book != nil {
			book.RecordRx(payload, -1)
		}
		if server != nil {
			server.Broadcast(payload)
		}
	})

	if err := m.Start(); err != nil {
		return fmt.Errorf("failed to start modem: %v", err)
	}
	defer m.Stop()

	if server != nil {
		if err := server.Start(); err != nil {
			m.Stop()
			return fmt.Errorf("failed to start KISS server: %v", err)
		}
		defer server.Stop()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			logger.Printf("Received signal %v, shutting down...", sig)
			return nil

		case <-ticker.C:
			s := m.Stats()
			logger.Printf("stats: rx=%dB tx=%dB delivered=%d sent=%d integrity_drops=%d squelch_aborts=%d queue_drops=%d",
				s.BytesRx, s.BytesTx, s.Delivered, s.Sent, s.IntegrityDrops, s.SquelchAborts, s.QueueDrops)
			if m.Crashed() {
				return fmt.Errorf("demodulator lost, exiting")
			}
		}
	}
}

// buildModemConfig assembles the modem configuration, resolving
// fuzzy ALSA device names when no explicit card,device is given
func buildModemConfig(cfg *config.Config, logger *log.Logger) (modem.Config, error) {
	rxDevice := cfg.GetAudioRxDevice()
	txDevice := cfg.GetAudioTxDevice()

	locator := audio.NewLocator()
	if rxDevice == "" && cfg.GetAudioRxName() != "" {
		dev, err := locator.Find(cfg.GetAudioRxName(), audio.Capture)
		if err != nil {
			return modem.Config{}, fmt.Errorf("failed to resolve capture device %q: %v", cfg.GetAudioRxName(), err)
		}
		logger.Printf("capture device %q resolved to hw:%s", cfg.GetAudioRxName(), dev)
		rxDevice = dev
	}
	if txDevice == "" && cfg.GetAudioTxName() != "" {
		dev, err := locator.Find(cfg.GetAudioTxName(), audio.Playback)
		if err != nil {
			return modem.Config{}, fmt.Errorf("failed to resolve playback device %q: %v", cfg.GetAudioTxName(), err)
		}
		logger.Printf("playback device %q resolved to hw:%s", cfg.GetAudioTxName(), dev)
		txDevice = dev
	}

	mode, err := framing.ParseMode(cfg.GetFramingMode())
	if err != nil {
		return modem.Config{}, err
	}

	return modem.Config{
		Command:             cfg.GetModemCommand(),
		Baud:                cfg.GetModemBaud(),
		RxDevice:            rxDevice,
		TxDevice:            txDevice,
		MarkHz:              cfg.GetModemMarkHz(),
		SpaceHz:             cfg.GetModemSpaceHz(),
		ConfidenceThreshold: cfg.GetModemConfidence(),
		SyncByte:            cfg.GetModemSyncByte(),
		Framing: framing.Options{
			Mode:     mode,
			MaxFrame: int(cfg.GetFramingMaxFrame()),
			EOM:      cfg.GetFramingEOM(),
		},
		ReadyLine:       cfg.GetModemReadyLine(),
		StartTimeout:    time.Duration(cfg.GetModemStartTimeout()) * time.Second,
		StopGrace:       time.Duration(cfg.GetModemStopGrace()) * time.Second,
		EagerTx:         cfg.GetModemEagerTx(),
		RespawnOnCrash:  cfg.GetModemRespawn(),
		TxTrailDelay:    time.Duration(cfg.GetModemTxTrailDelay()) * time.Millisecond,
		SendBusyFail:    cfg.GetModemSendBusyFail(),
		PTTFrequency:    cfg.GetPTTFrequency(),
		PTTAbortOnError: cfg.GetPTTAbortOnError(),
		PTT: ptt.Config{
			Type:    cfg.GetPTTType(),
			Device:  cfg.GetPTTDevice(),
			Line:    cfg.GetPTTLine(),
			Address: cfg.GetPTTAddress(),
		},
		Logger: logger,
		Debug:  cfg.GetModemDebug(),
	}, nil
}

// loggedSender forwards KISS client traffic to the modem and records
// successful bursts in the logbook
type loggedSender struct {
	modem *modem.Modem
	book  *logbook.Writer
}

func (s *loggedSender) Send(payload []byte) error {
	if err := s.modem.Send(payload); err != nil {
		return err
	}
	if s.book != nil {
		s.book.RecordTx(payload)
	}
	return nil
}
