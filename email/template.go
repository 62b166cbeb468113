package email

// %[1]s = list display name, %[2]s = list address, %[3]s = confirmation link.

const confirmSubscribeSubject = "Confirm your subscription to %s"
const confirmSubscribeText = `
Hey there!

Someone -- hopefully you -- asked to subscribe this address to the %[1]s mailing list (%[2]s). To confirm, visit

 %[3]s

within the next 24 hours. If this wasn't you, simply ignore this message and nothing will change.
`
const confirmSubscribeHTML = `<p>Hey there!</p>
<p>Someone &mdash; hopefully you &mdash; asked to subscribe this address to the <b>%[1]s</b> mailing list (%[2]s).</p>
<p><a href="%[3]s">Confirm your subscription</a> within the next 24 hours. If this wasn't you, simply ignore this message and nothing will change.</p>
`

const confirmUnsubscribeSubject = "Confirm your unsubscription from %s"
const confirmUnsubscribeText = `
Hey there!

Someone -- hopefully you -- asked to remove this address from the %[1]s mailing list (%[2]s). To confirm, visit

 %[3]s

within the next 24 hours. If this wasn't you, simply ignore this message and you will stay subscribed.
`
const confirmUnsubscribeHTML = `<p>Hey there!</p>
<p>Someone &mdash; hopefully you &mdash; asked to remove this address from the <b>%[1]s</b> mailing list (%[2]s).</p>
<p><a href="%[3]s">Confirm your unsubscription</a> within the next 24 hours. If this wasn't you, simply ignore this message and you will stay subscribed.</p>
`

const completedSubscribeSubject = "Welcome to %s"
const completedSubscribeText = `
You're subscribed to the %[1]s mailing list (%[2]s). Welcome!

You can unsubscribe at any time using the link in the footer of any list message.
`
const completedSubscribeHTML = `<p>You're subscribed to the <b>%[1]s</b> mailing list (%[2]s). Welcome!</p>
<p>You can unsubscribe at any time using the link in the footer of any list message.</p>
`

const completedUnsubscribeSubject = "You have been unsubscribed from %s"
const completedUnsubscribeText = `
This address has been removed from the %[1]s mailing list (%[2]s). Sorry to see you go!
`
const completedUnsubscribeHTML = `<p>This address has been removed from the <b>%[1]s</b> mailing list (%[2]s). Sorry to see you go!</p>
`

// %[1]s = list address, %[2]d = subscriber count since process start.

const milestoneSubject = "%s reached %d new subscribers"
const milestoneText = `
The mailing list %[1]s has gained %[2]d subscribers since the service started.
`
const milestoneHTML = `<p>The mailing list <b>%[1]s</b> has gained %[2]d subscribers since the service started.</p>
`
