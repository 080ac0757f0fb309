package cmd

import (
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/docease/telecare/cli/internal/config"
	"github.com/docease/telecare/cli/internal/ui"
	"github.com/docease/telecare/internal/version"
)

var (
	flagServer       string
	flagSTUN         []string
	flagTURN         string
	flagTURNUser     string
	flagTURNPass     string
	flagParticipant  string
	flagRole         string
	flagPeer         string
	flagPollInterval time.Duration
	flagOfferTimeout time.Duration
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "telecare",
	Short: "Doctor and patient consultations from the terminal: video call and chat",
	Long: `Telecare joins an appointment's consultation room on a telecare server.
Both participants of the appointment can start a peer-to-peer video call
over WebRTC and exchange chat messages that stay in the appointment history.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		os.Exit(0)
	}()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func configOptions() config.Options {
	return config.Options{
		Server:        flagServer,
		STUNServers:   flagSTUN,
		TURNServer:    flagTURN,
		TURNUser:      flagTURNUser,
		TURNPass:      flagTURNPass,
		ParticipantID: flagParticipant,
		Role:          flagRole,
		PeerID:        flagPeer,
		PollInterval:  flagPollInterval,
		OfferTimeout:  flagOfferTimeout,
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&flagServer, "server", "s", "", "Telecare server URL (default "+config.DefaultServer+")")
	flags.StringSliceVar(&flagSTUN, "stun", nil, "STUN server, repeatable")
	flags.StringVarP(&flagTURN, "turn", "t", "", "TURN server host")
	flags.StringVarP(&flagTURNUser, "turn-user", "u", "", "TURN username")
	flags.StringVarP(&flagTURNPass, "turn-pass", "p", "", "TURN password")
	flags.StringVar(&flagParticipant, "as", "", "Your participant id")
	flags.StringVar(&flagRole, "role", "", `Your role, "user" (patient) or "doctor"`)
	flags.StringVar(&flagPeer, "peer", "", "The other participant's id")
	flags.DurationVar(&flagPollInterval, "poll-interval", config.DefaultPollInterval, "Chat refresh interval")
	flags.DurationVar(&flagOfferTimeout, "offer-timeout", 0, "Give up on an unanswered call after this long (0 waits)")
}
