package core

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/replanner/internal/capability"
)

// MissingParameterError reports required parameters absent from a tool call.
// The tool is never executed when this error is returned.
type MissingParameterError struct {
	Tool    string
	Missing []capability.Parameter
}

func (e *MissingParameterError) Error() string {
	names := make([]string, 0, len(e.Missing))
	for _, p := range e.Missing {
		names = append(names, p.Name)
	}
	return fmt.Sprintf("tool %s: missing required parameters: %s", e.Tool, strings.Join(names, ", "))
}

// ClarifyingQuestion is the user-facing text asking for the missing values.
func (e *MissingParameterError) ClarifyingQuestion() string {
	var b strings.Builder
	fmt.Fprintf(&b, "J'ai besoin des informations suivantes pour utiliser l'outil %s:\n", e.Tool)
	for _, p := range e.Missing {
		fmt.Fprintf(&b, "- %s: %s\n", p.Name, p.Description)
	}
	b.WriteString("Veuillez me fournir ces informations.")
	return b.String()
}

// ToolExecutionError wraps a failure raised while a tool was running.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string { return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err) }

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// OrchestrationFatalError is anything that aborted a turn. It is logged and
// replaced with a generic message before reaching the caller.
type OrchestrationFatalError struct {
	Phase Phase
	Err   error
}

func (e *OrchestrationFatalError) Error() string {
	return fmt.Sprintf("orchestration failed during %s: %v", e.Phase, e.Err)
}

func (e *OrchestrationFatalError) Unwrap() error { return e.Err }

// User-facing texts.
const (
	MessageCannotAnswer  = "Je ne sais pas comment répondre à cette requête. Pouvez-vous reformuler ou être plus précis ?"
	MessageInternalError = "Une erreur est survenue lors du traitement de votre demande. Veuillez réessayer."
)

func toolUnavailableText(tool string) string {
	if tool == "" {
		return "Aucun outil n'a été précisé pour cette étape."
	}
	return fmt.Sprintf("L'outil %s n'est pas disponible.", tool)
}

func toolFailureText(tool, msg string) string {
	return fmt.Sprintf("Erreur lors de l'exécution de l'outil %s: %s", tool, msg)
}

func invalidParamsText(tool string, err error) string {
	return fmt.Sprintf("Format de paramètres invalide pour l'outil %s: %v", tool, err)
}

func toolResultText(tool, result string) string {
	return "Résultat de " + tool + ": " + result
}
