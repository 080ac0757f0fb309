package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/docease/telecare/cli/internal/call"
	"github.com/docease/telecare/cli/internal/chat"
	"github.com/docease/telecare/cli/internal/signaling"
	"github.com/docease/telecare/cli/internal/ui"
	"github.com/docease/telecare/internal/models"
)

var (
	flagVideo string
	flagAudio string
)

var consultCmd = &cobra.Command{
	Use:     "consult <appointment-id>",
	Aliases: []string{"c", "join"},
	Short:   "Join an appointment's consultation room",
	Long: `Join the consultation room of an appointment to chat with the other
participant and start or answer a video call.

The local camera and microphone are read from an IVF (VP8) and an Ogg
(Opus) file. Without them the call carries silent tracks.

Examples:
  telecare consult apt-42 --as d1 --role doctor --peer u1
  telecare consult apt-42 --as u1 --peer d1 --video cam.ivf --audio mic.ogg
  telecare consult apt-42 --as u1 --server https://telecare.example.com`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return consult(cmd.Context(), args[0])
	},
}

func consult(parent context.Context, appointmentID string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := LoadConfig(true)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	stopSpinner := ui.RunConnectionSpinner("Connecting to server...")
	conn, err := NewConnectionContext(ctx, cfg)
	if err != nil {
		stopSpinner()
		return err
	}
	defer conn.Close()

	err = conn.Join(ctx, appointmentID)
	stopSpinner()
	if err != nil {
		return err
	}
	fmt.Println(ui.JoinedView(appointmentID, cfg.ParticipantID, conn.Peers))

	peers, err := call.NewPionFactory(cfg)
	if err != nil {
		return err
	}

	var session *call.Session
	poller := chat.NewPoller(chat.NewHTTPClient(cfg.ServerURL), cfg.ParticipantID, cfg.Role, cfg.PollInterval)
	model := ui.NewConsultationModel(appointmentID, cfg.ParticipantID, ui.Handlers{
		Send: func(text string) error {
			_, err := poller.Send(ctx, text)
			return err
		},
		Call: func(action ui.CallAction) {
			switch action {
			case ui.ActionStartCall:
				session.StartCall()
			case ui.ActionAccept:
				session.Accept()
			case ui.ActionReject:
				session.Reject()
			case ui.ActionEnd:
				session.End()
			}
		},
	})
	defer model.Close()

	session = call.NewSession(call.Options{
		AppointmentID: appointmentID,
		ParticipantID: cfg.ParticipantID,
		Signaler:      conn.Client,
		Media: call.FileSource{
			VideoPath: flagVideo,
			AudioPath: flagAudio,
			Secure:    secureOrigin(cfg.ServerURL),
		},
		Peers:        peers,
		OfferTimeout: cfg.OfferTimeout,
		OnNotice: func(n call.Notice) {
			model.Post(noticeUpdate(n))
		},
	})

	poller.OnUpdate = func(_ chat.Conversation, msgs []models.Message) {
		if msgs == nil {
			msgs = []models.Message{}
		}
		model.Post(ui.Update{History: msgs})
	}
	poller.OnError = func(err error) {
		model.Post(ui.Update{Notice: err.Error(), Err: true})
	}
	poller.Open(ctx, chat.Conversation{AppointmentID: appointmentID, PeerID: cfg.PeerID})
	defer poller.Close()

	online := conn.Peers > 0
	model.Post(ui.Update{PeerOnline: &online})

	sessionDone := make(chan struct{})
	go func() {
		defer close(sessionDone)
		session.Run(ctx)
	}()
	go route(ctx, conn, session, poller, model, cfg.PeerID)

	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()

	// Hang up before the connection closes so the peer hears about it.
	cancel()
	<-sessionDone
	return err
}

// route feeds relay traffic to the call session and presence to the view
// until the connection ends. Events are handled one at a time in relay
// order, so a peer leaving is seen before the offer it sends after
// rejoining.
func route(ctx context.Context, conn *ConnectionContext, session *call.Session, poller *chat.Poller, model *ui.ConsultationModel, peerID string) {
	h := conn.Handler
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-h.Events:
			switch msg.Type {
			case signaling.MessageTypePeerJoined:
				online := true
				model.Post(ui.Update{PeerOnline: &online, Notice: fmt.Sprintf("%s joined", msg.ParticipantID)})
				// The counterpart is learnt from the room when not configured.
				if peerID == "" && msg.ParticipantID != "" {
					peerID = msg.ParticipantID
					poller.Open(ctx, chat.Conversation{AppointmentID: conn.AppointmentID, PeerID: peerID})
				}

			case signaling.MessageTypePeerLeft:
				session.PeerLeft()
				online := false
				model.Post(ui.Update{PeerOnline: &online, Notice: fmt.Sprintf("%s left", msg.ParticipantID)})

			default:
				session.Deliver(msg)
			}

		case serverErr := <-h.Error:
			log.Warn().Str("code", serverErr.Code).Msg(serverErr.Message)
			text := serverErr.Error()
			if serverErr.Code == signaling.CodeEvicted {
				text = "This appointment was opened elsewhere; call signaling stopped here."
			}
			model.Post(ui.Update{Notice: text, Err: true})

		case <-h.Done:
			model.Post(ui.Update{Notice: "Disconnected from server", Err: true})
			session.PeerLeft()
			return
		}
	}
}

func noticeUpdate(n call.Notice) ui.Update {
	u := ui.Update{
		CallState:    n.State.String(),
		Incoming:     n.Incoming,
		IncomingFrom: n.From,
	}
	if n.Err != nil {
		u.Notice, u.Err = n.Err.Error(), true
	}
	return u
}

func init() {
	rootCmd.AddCommand(consultCmd)

	consultCmd.Flags().StringVar(&flagVideo, "video", "", "IVF (VP8) file used as the camera")
	consultCmd.Flags().StringVar(&flagAudio, "audio", "", "Ogg (Opus) file used as the microphone")
}
