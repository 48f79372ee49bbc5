package responder

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/adk/agent"
	"google.golang.org/adk/agent/llmagent"
	"google.golang.org/adk/runner"
	"google.golang.org/adk/session"
	"google.golang.org/genai"

	"github.com/google/uuid"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/platform/ai/chatmodel"
	"leadflow_backend/platform/apperr"
	"leadflow_backend/platform/config"
	"leadflow_backend/platform/logger"
)

const instruction = `Você é um consultor de energia solar atendendo leads pelo WhatsApp.
Responda sempre em português brasileiro, em tom amigável e direto, no máximo três frases.

PROTOCOLO:
1. Seu objetivo é coletar os dados de qualificação que ainda faltam, um por vez, começando pelo mais importante.
2. Nunca pergunte por um dado que o cliente já informou.
3. Quando o cliente demonstrar dúvida ou pedir provas de que funciona, inclua o marcador [SEND_SOCIAL_PROOF_VIDEO] em uma linha separada da resposta.
4. Nunca invente preços, prazos ou condições. Se não souber, diga que um consultor humano confirmará.
5. Nunca mencione que você é uma IA.`

// Agent is the LLM-backed Responder implementation.
type Agent struct {
	runner         *runner.Runner
	sessionService session.Service
	appName        string
	socialProofURL string
	log            *logger.Logger
}

// NewAgent builds the ADK agent over an OpenAI-compatible chat model.
func NewAgent(cfg config.ResponderConfig, log *logger.Logger) (*Agent, error) {
	const op = "responder.NewAgent"

	if cfg.GetResponderAPIKey() == "" {
		return nil, apperr.Internal("responder api key is not configured").WithOp(op)
	}

	model := chatmodel.New(chatmodel.Config{
		APIKey:  cfg.GetResponderAPIKey(),
		BaseURL: cfg.GetResponderBaseURL(),
		Model:   cfg.GetResponderModel(),
	})

	adkAgent, err := llmagent.New(llmagent.Config{
		Name:        "LeadConversationResponder",
		Model:       model,
		Description: "Automated sales responder for inbound WhatsApp leads.",
		Instruction: instruction,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create responder agent", err).WithOp(op)
	}

	appName := "lead_conversation_responder"
	sessionService := session.InMemoryService()
	r, err := runner.New(runner.Config{
		AppName:        appName,
		Agent:          adkAgent,
		SessionService: sessionService,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create responder runner", err).WithOp(op)
	}

	return &Agent{
		runner:         r,
		sessionService: sessionService,
		appName:        appName,
		socialProofURL: cfg.GetSocialProofVideoURL(),
		log:            log,
	}, nil
}

// Reply generates the next assistant turn for the lead. The full recent
// history travels in the prompt, so every invocation uses a fresh session.
func (a *Agent) Reply(ctx context.Context, lead *domain.Lead, history []domain.Message) (*Reply, error) {
	const op = "responder.Agent.Reply"

	if a == nil || a.runner == nil {
		return nil, apperr.Unavailable("responder is not initialized").WithOp(op)
	}

	userMessage := &genai.Content{
		Role:  "user",
		Parts: []*genai.Part{{Text: buildPrompt(lead, history)}},
	}

	userID := "lead-" + lead.ID.String()
	sessionID := uuid.New().String()
	if _, err := a.sessionService.Create(ctx, &session.CreateRequest{
		AppName:   a.appName,
		UserID:    userID,
		SessionID: sessionID,
	}); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, "failed to create responder session", err).WithOp(op)
	}

	var output strings.Builder
	for event, err := range a.runner.Run(ctx, userID, sessionID, userMessage, agent.RunConfig{StreamingMode: agent.StreamingModeNone}) {
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUnavailable, "responder generation failed", err).WithOp(op)
		}
		if event.Content == nil {
			continue
		}
		for _, part := range event.Content.Parts {
			if part != nil {
				output.WriteString(part.Text)
			}
		}
	}

	if strings.TrimSpace(output.String()) == "" {
		return nil, apperr.Unavailable("responder returned an empty reply").WithOp(op)
	}

	reply := parseReply(output.String(), a.socialProofURL)
	a.log.WithLead(lead.ID.String()).Debug("responder reply generated",
		"chars", len(reply.Text),
		"attachments", len(reply.Attachments))
	return reply, nil
}

// buildPrompt renders the lead profile, the outstanding qualification fields
// and the recent transcript into a single user turn.
func buildPrompt(lead *domain.Lead, history []domain.Message) string {
	var b strings.Builder

	b.WriteString("PERFIL DO LEAD:\n")
	fmt.Fprintf(&b, "Nome: %s\n", valueOr(lead.Name, "desconhecido"))
	if lead.MonthlyBill != nil {
		fmt.Fprintf(&b, "Conta mensal: R$ %.2f\n", *lead.MonthlyBill)
	}
	if lead.City != nil && *lead.City != "" {
		fmt.Fprintf(&b, "Cidade: %s\n", *lead.City)
	}
	if lead.Segment != nil && *lead.Segment != "" {
		fmt.Fprintf(&b, "Segmento: %s\n", *lead.Segment)
	}
	if lead.RoofType != nil && *lead.RoofType != "" {
		fmt.Fprintf(&b, "Tipo de telhado: %s\n", *lead.RoofType)
	}
	if lead.ConsumptionIncrease != nil {
		fmt.Fprintf(&b, "Pretende aumentar o consumo: %v\n", *lead.ConsumptionIncrease)
	}

	if missing := lead.MissingQualificationFields(); len(missing) > 0 {
		b.WriteString("\nDADOS AINDA NÃO INFORMADOS (em ordem de prioridade):\n")
		for _, field := range missing {
			fmt.Fprintf(&b, "- %s\n", fieldLabel(field))
		}
	}

	b.WriteString("\nCONVERSA RECENTE (da mais antiga para a mais nova):\n")
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", roleLabel(msg.Sender), msg.Content)
	}

	b.WriteString("\nEscreva a próxima mensagem do consultor.")
	return b.String()
}

func fieldLabel(field domain.QualificationField) string {
	switch field {
	case domain.FieldMonthlyBill:
		return "valor da conta mensal de energia"
	case domain.FieldConsumptionIncrease:
		return "se pretende aumentar o consumo"
	case domain.FieldSegment:
		return "segmento (residencial ou comercial)"
	case domain.FieldRoofType:
		return "tipo de telhado"
	case domain.FieldCity:
		return "cidade"
	default:
		return string(field)
	}
}

func roleLabel(sender domain.SenderRole) string {
	switch sender {
	case domain.SenderCustomer:
		return "Cliente"
	case domain.SenderAI, domain.SenderSystem:
		return "Consultor"
	case domain.SenderHumanAgent:
		return "Consultor (humano)"
	default:
		return string(sender)
	}
}

func valueOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
