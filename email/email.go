package email

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"log"
	"mime/multipart"
	"net/smtp"
	"net/textproto"
	"net/url"
	"strings"

	"github.com/lamplight/optin-backend/models"
	"github.com/lamplight/optin-backend/util"
)

// Config stores everything needed to submit notification emails, as
// well as to generate their contents.
type Config struct {
	auth               smtp.Auth
	username           string
	password           string
	submissionHostname string
	port               string
	sender             string
	operator           string // Recipient of milestone warnings.
	website            string // Base URL embedded into email bodies.
}

// MakeConfigFromEnv initializes our email config object with
// environment variables, and verifies up front that the SMTP relay
// speaks STARTTLS and an auth mechanism we support.
func MakeConfigFromEnv() (Config, error) {
	varErrs := util.Errors{}
	c := Config{
		username:           util.RequireEnv("SMTP_USERNAME", &varErrs),
		password:           util.RequireEnv("SMTP_PASSWORD", &varErrs),
		submissionHostname: util.RequireEnv("SMTP_ENDPOINT", &varErrs),
		port:               util.RequireEnv("SMTP_PORT", &varErrs),
		sender:             util.RequireEnv("SMTP_FROM_ADDRESS", &varErrs),
		website:            util.RequireEnv("SITE_URL", &varErrs),
	}
	c.operator = util.EnvOrDefault("OPERATOR_ADDRESS", c.sender)
	if len(varErrs) > 0 {
		return c, varErrs
	}
	log.Printf("Establishing auth connection with SMTP server %s", c.submissionHostname)
	client, err := smtp.Dial(fmt.Sprintf("%s:%s", c.submissionHostname, c.port))
	if err != nil {
		return c, err
	}
	defer client.Close()
	err = client.StartTLS(&tls.Config{ServerName: c.submissionHostname})
	if err != nil {
		return c, fmt.Errorf("SMTP server doesn't support STARTTLS")
	}
	ok, auths := client.Extension("AUTH")
	if !ok {
		return c, fmt.Errorf("remote SMTP server doesn't support any authentication mechanisms")
	}
	if strings.Contains(auths, "PLAIN") {
		c.auth = smtp.PlainAuth("", c.username, c.password, c.submissionHostname)
	} else if strings.Contains(auths, "CRAM-MD5") {
		c.auth = smtp.CRAMMD5Auth(c.username, c.password)
	} else {
		return c, fmt.Errorf("SMTP server doesn't support PLAIN or CRAM-MD5 authentication")
	}
	return c, nil
}

// unsubscribeURL is where the List-Unsubscribe header points.
func (c Config) unsubscribeURL(list models.MailingList) string {
	return fmt.Sprintf("%s/unsubscribe?list=%s", c.website, url.QueryEscape(list.Address))
}

// SendConfirmation mails the invitation-to-confirm for a pending
// subscribe or unsubscribe request. link is the one-time confirmation
// URL carrying the token.
func (c Config) SendConfirmation(req models.PendingRequest, list models.MailingList, link string) error {
	message, err := c.buildConfirmation(req, list, link)
	if err != nil {
		return err
	}
	return c.submit(req.Email, message)
}

func (c Config) buildConfirmation(req models.PendingRequest, list models.MailingList, link string) ([]byte, error) {
	listName := displayName(list)
	var subject, text, html string
	if req.Action == models.ActionSubscribe {
		subject = fmt.Sprintf(confirmSubscribeSubject, listName)
		text = fmt.Sprintf(confirmSubscribeText, listName, list.Address, link)
		html = fmt.Sprintf(confirmSubscribeHTML, listName, list.Address, link)
	} else {
		subject = fmt.Sprintf(confirmUnsubscribeSubject, listName)
		text = fmt.Sprintf(confirmUnsubscribeText, listName, list.Address, link)
		html = fmt.Sprintf(confirmUnsubscribeHTML, listName, list.Address, link)
	}
	return c.buildMessage(req.Email, subject, text, html, c.unsubscribeURL(list))
}

// SendCompleted mails the final notice once the membership change has
// been applied on the backend.
func (c Config) SendCompleted(req models.PendingRequest, list models.MailingList) error {
	listName := displayName(list)
	var subject, text, html string
	if req.Action == models.ActionSubscribe {
		subject = fmt.Sprintf(completedSubscribeSubject, listName)
		text = fmt.Sprintf(completedSubscribeText, listName, list.Address)
		html = fmt.Sprintf(completedSubscribeHTML, listName, list.Address)
	} else {
		subject = fmt.Sprintf(completedUnsubscribeSubject, listName)
		text = fmt.Sprintf(completedUnsubscribeText, listName, list.Address)
		html = fmt.Sprintf(completedUnsubscribeHTML, listName, list.Address)
	}
	return c.sendEmail(req.Email, subject, text, html, c.unsubscribeURL(list))
}

// SendMilestone notifies the operator that a list just gained its Nth
// subscriber since this process started.
func (c Config) SendMilestone(list models.MailingList, count int) error {
	subject := fmt.Sprintf(milestoneSubject, list.Address, count)
	text := fmt.Sprintf(milestoneText, list.Address, count)
	html := fmt.Sprintf(milestoneHTML, list.Address, count)
	return c.sendEmail(c.operator, subject, text, html, "")
}

func displayName(list models.MailingList) string {
	if list.Name != "" {
		return list.Name
	}
	return list.Address
}

// sendEmail submits one message with text and HTML alternative bodies.
func (c Config) sendEmail(address string, subject string, text string, html string, unsubscribe string) error {
	message, err := c.buildMessage(address, subject, text, html, unsubscribe)
	if err != nil {
		return err
	}
	return c.submit(address, message)
}

// submit hands a built message to the SMTP relay. With no host
// configured the message is logged instead of sent, which keeps local
// development workable.
func (c Config) submit(address string, message []byte) error {
	if c.submissionHostname == "" {
		log.Println("Warning: email host not configured, not sending email")
		log.Println(string(message))
		return nil
	}
	return smtp.SendMail(fmt.Sprintf("%s:%s", c.submissionHostname, c.port),
		c.auth,
		c.sender, []string{address}, message)
}

func (c Config) buildMessage(address string, subject string, text string, html string, unsubscribe string) ([]byte, error) {
	var buf bytes.Buffer
	alternative := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "From: %s\r\n", c.sender)
	fmt.Fprintf(&buf, "To: %s\r\n", address)
	fmt.Fprintf(&buf, "Subject: %s\r\n", subject)
	if unsubscribe != "" {
		fmt.Fprintf(&buf, "List-Unsubscribe: <%s>\r\n", unsubscribe)
	}
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%s\r\n\r\n", alternative.Boundary())

	plain, err := alternative.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/plain; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(plain, text)
	rich, err := alternative.CreatePart(textproto.MIMEHeader{
		"Content-Type": {"text/html; charset=utf-8"},
	})
	if err != nil {
		return nil, err
	}
	fmt.Fprint(rich, html)
	if err := alternative.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
