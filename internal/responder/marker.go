package responder

import "strings"

// SocialProofMarker is the control token the model emits when the
// conversation script calls for the social proof video.
const SocialProofMarker = "[SEND_SOCIAL_PROOF_VIDEO]"

// parseReply strips control markers from raw model output and resolves them
// into attachments. Marker resolution happens here, at the boundary, so the
// rest of the pipeline only ever sees structured replies.
func parseReply(raw, socialProofURL string) *Reply {
	reply := &Reply{Text: raw}

	if strings.Contains(reply.Text, SocialProofMarker) {
		reply.Text = strings.ReplaceAll(reply.Text, SocialProofMarker, "")
		if socialProofURL != "" {
			reply.Attachments = append(reply.Attachments, Attachment{
				URL:     socialProofURL,
				Caption: "Veja o que nossos clientes estão dizendo!",
			})
		}
	}

	reply.Text = collapseBlankLines(strings.TrimSpace(reply.Text))
	return reply
}

func collapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n\n") {
		s = strings.ReplaceAll(s, "\n\n\n", "\n\n")
	}
	return s
}
