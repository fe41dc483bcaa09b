package main

import (
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tordrt/seedkit/internal/atomicfile"
	"github.com/tordrt/seedkit/internal/config"
	"github.com/tordrt/seedkit/internal/supabase"
	"github.com/tordrt/seedkit/internal/tts"
)

func newTTSCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tts",
		Short: "Text-to-speech checks and audio caching",
	}

	voices := &cobra.Command{
		Use:   "voices",
		Short: "List available voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			rt, err := newRuntime(cmd, root, config.NeedTTS)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			c, err := rt.TTS()
			if err != nil {
				return err
			}
			vs, err := c.Voices(cmd.Context())
			if err != nil {
				return err
			}
			rt.out.Voices(vs, rt.cfg.TTS.VoiceID)
			return nil
		},
	}

	var (
		voice  string
		out    string
		upload bool
	)
	say := &cobra.Command{
		Use:   "say TEXT",
		Short: "Synthesize TEXT and save or upload the audio",
		Long: `Say synthesizes TEXT with the configured voice. The audio is written to --out
and, with --upload, stored in the audio bucket under a key derived from the
voice, model and text. When that key is already stored the phrase is not
synthesized again: --out then receives the cached audio.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			if out == "" && !upload {
				return errors.New("pass --out, --upload, or both")
			}
			reqs := []config.Requirement{config.NeedTTS}
			if upload {
				reqs = append(reqs, storageReqs...)
			}

			rt, err := newRuntime(cmd, root, reqs...)
			if err != nil {
				return err
			}
			defer rt.finish(&err)

			if voice == "" {
				voice = rt.cfg.TTS.VoiceID
			}
			if voice == "" {
				return errors.New("no voice: pass --voice or set ELEVENLABS_VOICE_ID")
			}

			c, err := rt.TTS()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			text := args[0]
			bucket := rt.cfg.TTS.Bucket

			var (
				sb     *supabase.Client
				key    string
				cached bool
			)
			if upload {
				if sb, err = rt.Supabase(); err != nil {
					return err
				}
				key = tts.CacheKey(rt.cfg.TTS.Prefix, voice, c.Model(), text)
				if cached, err = sb.ObjectExists(ctx, bucket, key); err != nil {
					return err
				}
			}

			var audio []byte
			switch {
			case cached && out == "":
				rt.log.Info("speech already cached", zap.String("key", key))
			case cached:
				if audio, err = sb.Download(ctx, bucket, key); err != nil {
					return err
				}
				rt.log.Info("speech read from cache", zap.String("key", key), zap.Int("bytes", len(audio)))
			default:
				audio, err = c.Synthesize(ctx, voice, text, tts.VoiceSettings{
					Stability:       rt.cfg.TTS.Stability,
					SimilarityBoost: rt.cfg.TTS.SimilarityBoost,
				})
				if err != nil {
					return err
				}
				rt.log.Info("speech synthesized", zap.String("voice", voice), zap.Int("bytes", len(audio)))
			}

			if out != "" {
				if err := atomicfile.Write(out, audio, 0o644); err != nil {
					return err
				}
				rt.out.Line("wrote %d bytes to %s", len(audio), out)
			}

			if upload {
				if cached {
					rt.out.Line("already cached at %s", sb.PublicURL(bucket, key))
					return nil
				}
				if err := sb.Upload(ctx, bucket, key, "audio/mpeg", audio, true); err != nil {
					return err
				}
				rt.out.Line("uploaded %s", sb.PublicURL(bucket, key))
			}
			return nil
		},
	}
	say.Flags().StringVar(&voice, "voice", "", "Voice id (default: tts.voice_id)")
	say.Flags().StringVar(&out, "out", "", "Write the MP3 audio to this file")
	say.Flags().BoolVar(&upload, "upload", false, "Upload the audio to the cache bucket")

	cmd.AddCommand(voices, say)
	return cmd
}
