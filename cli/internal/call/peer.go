package call

import (
	"github.com/pion/interceptor"
	pion "github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/docease/telecare/cli/internal/config"
	"github.com/docease/telecare/cli/internal/signaling"
)

// Peer is one peer connection as the session runtime drives it.
type Peer interface {
	CreateOffer() (*signaling.SessionDescription, error)
	// CreateAnswer applies the remote offer and returns the applied local answer.
	CreateAnswer(offer signaling.SessionDescription) (*signaling.SessionDescription, error)
	ApplyAnswer(answer signaling.SessionDescription) error
	AddCandidate(c signaling.Candidate) error
	// Close is safe to call on a closed peer.
	Close() error
}

// PeerHooks are callbacks from the peer connection. They run on pion's
// goroutines.
type PeerHooks struct {
	OnCandidate func(signaling.Candidate)
	OnConnected func()
	OnFailed    func()
}

// PeerFactory creates peer connections carrying local media.
type PeerFactory interface {
	NewPeer(local *LocalMedia, hooks PeerHooks) (Peer, error)
}

// PionFactory builds peer connections with pion, configured with the ICE
// servers of cfg.
type PionFactory struct {
	cfg *config.Config
	api *pion.API
}

// NewPionFactory registers the default codecs and interceptors once.
func NewPionFactory(cfg *config.Config) (*PionFactory, error) {
	mediaEngine := &pion.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, newError("register codecs", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := pion.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, newError("register interceptors", err)
	}

	return &PionFactory{
		cfg: cfg,
		api: pion.NewAPI(
			pion.WithMediaEngine(mediaEngine),
			pion.WithInterceptorRegistry(interceptorRegistry),
		),
	}, nil
}

func (f *PionFactory) iceServers() []pion.ICEServer {
	servers := []pion.ICEServer{{URLs: f.cfg.STUNServers}}

	if turn := f.cfg.GetTURNServers(); turn != nil {
		username, password := f.cfg.GetTURNCredentials()
		servers = append(servers, pion.ICEServer{
			URLs:       turn,
			Username:   username,
			Credential: password,
		})
	}
	return servers
}

// NewPeer implements PeerFactory.
func (f *PionFactory) NewPeer(local *LocalMedia, hooks PeerHooks) (Peer, error) {
	pc, err := f.api.NewPeerConnection(pion.Configuration{ICEServers: f.iceServers()})
	if err != nil {
		return nil, newError("create peer connection", err)
	}

	var tracks []pion.TrackLocal
	if local != nil {
		tracks = local.Tracks
	}
	if len(tracks) == 0 {
		// Still negotiate both m-lines so the remote side can send.
		for _, kind := range []pion.RTPCodecType{pion.RTPCodecTypeVideo, pion.RTPCodecTypeAudio} {
			if _, err := pc.AddTransceiverFromKind(kind, pion.RTPTransceiverInit{
				Direction: pion.RTPTransceiverDirectionRecvonly,
			}); err != nil {
				pc.Close()
				return nil, newError("add transceiver", err)
			}
		}
	}
	for _, track := range tracks {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, newError("add track", err)
		}
		// RTCP has to be read for the interceptors to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
	}

	pc.OnTrack(func(track *pion.TrackRemote, _ *pion.RTPReceiver) {
		log.Debug().Str("kind", track.Kind().String()).Str("codec", track.Codec().MimeType).Msg("remote track")
		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})

	pc.OnICECandidate(func(c *pion.ICECandidate) {
		if c == nil || hooks.OnCandidate == nil {
			return
		}
		init := c.ToJSON()
		hooks.OnCandidate(signaling.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(state pion.PeerConnectionState) {
		log.Debug().Str("state", state.String()).Msg("peer connection state")
		switch state {
		case pion.PeerConnectionStateConnected:
			if hooks.OnConnected != nil {
				hooks.OnConnected()
			}
		case pion.PeerConnectionStateFailed:
			if hooks.OnFailed != nil {
				hooks.OnFailed()
			}
		}
	})

	return &pionPeer{pc: pc}, nil
}

type pionPeer struct {
	pc *pion.PeerConnection
}

func (p *pionPeer) CreateOffer() (*signaling.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return nil, newError("create offer", err)
	}

	if err = p.pc.SetLocalDescription(offer); err != nil {
		return nil, newError("set local description", err)
	}

	return toSignaling(p.pc.LocalDescription()), nil
}

func (p *pionPeer) CreateAnswer(offer signaling.SessionDescription) (*signaling.SessionDescription, error) {
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return nil, newError("set remote description", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return nil, newError("create answer", err)
	}

	if err = p.pc.SetLocalDescription(answer); err != nil {
		return nil, newError("set local description", err)
	}

	return toSignaling(p.pc.LocalDescription()), nil
}

func (p *pionPeer) ApplyAnswer(answer signaling.SessionDescription) error {
	if err := p.pc.SetRemoteDescription(pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		return newError("set remote description", err)
	}
	return nil
}

func (p *pionPeer) AddCandidate(c signaling.Candidate) error {
	if err := p.pc.AddICECandidate(pion.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}); err != nil {
		return newError("add ICE candidate", err)
	}
	return nil
}

func (p *pionPeer) Close() error {
	if p.pc.ConnectionState() == pion.PeerConnectionStateClosed {
		return nil
	}
	return p.pc.Close()
}

func toSignaling(desc *pion.SessionDescription) *signaling.SessionDescription {
	if desc == nil {
		return nil
	}
	return &signaling.SessionDescription{Type: desc.Type.String(), SDP: desc.SDP}
}
