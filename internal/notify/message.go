package notify

import "fmt"

// Message templates are Spanish, matching the site's audience.

func emailSubject(d *Delivery) string {
	return "Tu código de descuento de Resonancial"
}

func emailTextBody(d *Delivery) string {
	return fmt.Sprintf(
		"¡Gracias por suscribirte al boletín de Resonancial!\n\n"+
			"Tu código de descuento del 10%% es: %s\n\n"+
			"Úsalo en tu próxima reserva antes del %s.\n\n"+
			"Con cariño,\nEl equipo de Resonancial",
		d.Code,
		d.ExpiresAt.Format("02/01/2006"),
	)
}

func emailHTMLBody(d *Delivery) string {
	return fmt.Sprintf(
		`<p>¡Gracias por suscribirte al boletín de Resonancial!</p>`+
			`<p>Tu código de descuento del 10%% es:</p>`+
			`<p style="font-size:24px;font-weight:bold;letter-spacing:2px">%s</p>`+
			`<p>Úsalo en tu próxima reserva antes del <strong>%s</strong>.</p>`+
			`<p>Con cariño,<br>El equipo de Resonancial</p>`,
		d.Code,
		d.ExpiresAt.Format("02/01/2006"),
	)
}

func whatsappMessage(d *Delivery) string {
	return fmt.Sprintf(
		"¡Gracias por suscribirte a Resonancial! 🌿 Tu código de descuento del 10%% es %s. Válido hasta el %s.",
		d.Code,
		d.ExpiresAt.Format("02/01/2006"),
	)
}
