package service

import (
	"bytes"
	"fmt"
	"text/template"

	"backend/internal/model"
)

// TemplateContext carries the values interpolated into notification
// messages. Unused fields are simply ignored by a given template.
type TemplateContext struct {
	RequisitionID string
	RequesterName string
	ApproverName  string
	TotalAmount   string
	ItemCount     int
	Decision      string
	Comment       string
	PendingDays   int
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

// The fixed template set. Plain text; the mail relay handles nothing fancier.
var messageTemplates = map[string]messageTemplate{
	model.NotifKindReqCreated: {
		subject: template.Must(template.New("s").Parse(`New requisition from {{.RequesterName}} awaiting your approval`)),
		body: template.Must(template.New("b").Parse(`A stationery requisition ({{.ItemCount}} item(s), total {{.TotalAmount}}) was submitted by {{.RequesterName}} and requires your decision.

Requisition: {{.RequisitionID}}`)),
	},
	model.NotifKindReqApproved: {
		subject: template.Must(template.New("s").Parse(`Your requisition has been approved`)),
		body: template.Must(template.New("b").Parse(`Your stationery requisition (total {{.TotalAmount}}) was approved by {{.ApproverName}}.{{if .Comment}}

Comment: {{.Comment}}{{end}}

Requisition: {{.RequisitionID}}`)),
	},
	model.NotifKindReqRejected: {
		subject: template.Must(template.New("s").Parse(`Your requisition has been rejected`)),
		body: template.Must(template.New("b").Parse(`Your stationery requisition (total {{.TotalAmount}}) was rejected by {{.ApproverName}}.{{if .Comment}}

Reason: {{.Comment}}{{end}}

Requisition: {{.RequisitionID}}`)),
	},
	model.NotifKindGoodsArrived: {
		subject: template.Must(template.New("s").Parse(`Your stationery order has arrived`)),
		body: template.Must(template.New("b").Parse(`The items from your requisition {{.RequisitionID}} have arrived and are ready for pickup.`)),
	},
	model.NotifKindReminder: {
		subject: template.Must(template.New("s").Parse(`Reminder: requisition pending your approval`)),
		body: template.Must(template.New("b").Parse(`A requisition from {{.RequesterName}} has been waiting for your decision for {{.PendingDays}} day(s).

Requisition: {{.RequisitionID}}`)),
	},
}

// renderMessage produces the subject and body for kind, or an error for an
// unknown kind.
func renderMessage(kind string, tctx TemplateContext) (subject, body string, err error) {
	tmpl, ok := messageTemplates[kind]
	if !ok {
		return "", "", fmt.Errorf("unknown notification kind: %s", kind)
	}

	var subjBuf, bodyBuf bytes.Buffer
	if err := tmpl.subject.Execute(&subjBuf, tctx); err != nil {
		return "", "", fmt.Errorf("render subject for %s: %w", kind, err)
	}
	if err := tmpl.body.Execute(&bodyBuf, tctx); err != nil {
		return "", "", fmt.Errorf("render body for %s: %w", kind, err)
	}
	return subjBuf.String(), bodyBuf.String(), nil
}
