// Package email sends transactional email through a provider-agnostic
// EmailSender. PostmarkClient relays through github.com/mrz1836/postmark and
// returns the provider message id, which the delivery tracker stores to match
// later delivery webhooks. DevSender writes messages to disk for local work.
//
//	sender, err := email.NewPostmarkClient(cfg)
//	if err != nil {
//		return err
//	}
//	id, err := sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "ana@example.com",
//		Subject:  "Tarea asignada",
//		BodyHTML: html,
//		Tag:      "tarea_asignada",
//	})
package email
