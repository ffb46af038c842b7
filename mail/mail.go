package mail

import (
	"fmt"
	"net/smtp"
)

// Service sends delivery OTP codes over SMTP. Recipient resolution from user
// id to mailbox is handled by the mail relay.
type Service struct {
	host string
	port string
	from string
}

func NewService(host, port, from string) *Service {
	return &Service{host: host, port: port, from: from}
}

// SendCode mails the delivery confirmation code to the recipient.
func (s *Service) SendCode(recipient, code string) error {
	subject := "Your delivery confirmation code"
	body := fmt.Sprintf("Share this code with your delivery agent to confirm the handoff: %s\r\nThe code expires in 5 minutes.", code)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		s.from, recipient, subject, body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	return smtp.SendMail(addr, nil, s.from, []string{recipient}, []byte(msg))
}
