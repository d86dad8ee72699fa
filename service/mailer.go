package application

import (
	"fmt"

	"gopkg.in/gomail.v2"
)

// Mailer sends operator alerts for reservations left in a fault state.
type Mailer struct {
	dialer *gomail.Dialer
	from   string
	to     string
}

func NewMailer(host string, port int, username, password, from, to string) *Mailer {
	return &Mailer{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
		to:     to,
	}
}

func (m *Mailer) SendValidationAlert(reservationID, message string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", m.to)
	msg.SetHeader("Subject", "Reservation validation fault")

	bodyString := fmt.Sprintf("Reservation %s could not be validated and needs manual review.\n\nError: %s", reservationID, message)
	msg.SetBody("text", bodyString)

	return m.dialer.DialAndSend(msg)
}
