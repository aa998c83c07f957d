package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/tbourn/go-order-bot/internal/domain"
)

// Replies renders every user-facing message. Site links and the support
// contact come from configuration; nothing here performs I/O.
type Replies struct {
	SiteURL        string
	SupportContact string
	CooldownWindow time.Duration
	MaxOrderIDs    int
}

func (r Replies) site(path string) string {
	return strings.TrimRight(r.SiteURL, "/") + path
}

// ---- authentication ----

func (r Replies) Welcome() string {
	msg := "🤖 Welcome! 🎉\n\n👤 Please enter your Username to get started."
	if r.SiteURL != "" {
		msg += "\n\nYou can find it on your account page: " + r.site("/account")
	}
	return msg
}

func (r Replies) LookupFailed() string {
	return "❌ Error checking username. Please try again in a moment.\n\n🔄 Please try again with your correct User ID."
}

func (r Replies) UnknownUsername() string {
	return "❌ You have entered an invalid username, 👤Kindly enter your valid Username:"
}

func (r Replies) ConfirmUsername(username string) string {
	return fmt.Sprintf("✅ Username found in our system!\n\n🔍 Please confirm your username: *%s*\n\n💬 Reply with \"Yes\" or \"No\"", username)
}

func (r Replies) OTPSent(ticketID string) string {
	msg := "🎉 Username confirmed! \n\n📧 An OTP has been sent to your panel.\n\n"
	if ticketID != "" && r.SiteURL != "" {
		msg += "🎫 **View your OTP here:** " + r.site("/viewticket/"+ticketID) + "\n\n"
	}
	return msg + "🔢 Please enter the 6-digit OTP code:"
}

func (r Replies) OTPFailed() string {
	return "❌ Error sending OTP to your panel.\n\n🔄 Please try again later or contact support."
}

func (r Replies) ReenterUsername() string {
	return "🔄 No problem! \n\n👤 Please enter your correct User ID:"
}

func (r Replies) ConfirmUnclear() string {
	return "🤔 I didn't understand that.\n\n💬 Please reply with \"yes\" or \"no\" to confirm your username."
}

func (r Replies) OTPFormat() string {
	return "❌ Invalid OTP format!\n\n🔢 Please enter a 6-digit code (e.g., 123456):"
}

func (r Replies) OTPMismatch() string {
	return "❌ Invalid OTP code!\n\n🔄 Please check your ticket and try again:"
}

// Verified is sent once after a correct code. balance may be empty when the
// lookup failed; authentication still succeeds.
func (r Replies) Verified(balance string) string {
	msg := "🎉 OTP verified successfully! \n\n✅ You are now authenticated and ready to use the bot!"
	if balance != "" {
		msg += "\nYour balance is: " + balance
	}
	return msg
}

func (r Replies) AuthRequired() string {
	return "Please complete authentication to use the bot."
}

func (r Replies) LoggedOut() string {
	return "👋 *Logged out successfully!*\n\n🔄 Starting fresh session...\n\n👤 Please send any message to start the bot:"
}

// ---- conversation ----

func (r Replies) Thanks() string {
	return "🙏 Thank you for reaching out! We look forward to assisting you again soon. If you have any more questions or need help, just message me anytime."
}

func (r Replies) Help() string {
	return "🤖 Available commands:\n\n" +
		"💰 **Account Info:**\n" +
		"• Balance: \"balance\", \"paisa kitna hai\"\n" +
		"• Spent: \"spent\", \"kitna kharch kiya\"\n" +
		"• Both: \"account summary\", \"balance aur spent\"\n\n" +
		"📦 **Order Management:**\n" +
		"• Cancel: \"cancel 123456\", \"123456 band karo\"\n" +
		"• Speed up: \"speed 123456\", \"123456 jaldi karo\"\n" +
		"• Refill: \"refill 123456\", \"123456 lost followers\"\n" +
		"• Details: \"details 123456\", \"123456 details\"\n\n" +
		"🔗 **Other:**\n" +
		"• Services: \"services\"\n" +
		"• Website: \"site\"\n" +
		"• Logout: \"logout\"\n\n" +
		"💡 **Tips:**\n" +
		"• Use natural language in English/Hinglish/Urdu\n" +
		"• Multiple orders: \"cancel 1234,4567,7890\""
}

func (r Replies) Suggestion() string {
	return "🤔 I'm not sure what you're trying to do. Here are the available commands:\n\n" +
		"💰 *Account Info:*\n" +
		"• \"balance\" or \"paisa kitna hai\"\n" +
		"• \"spent\" or \"kitna kharch kiya\"\n\n" +
		"📦 *Order Management:*\n" +
		"• \"cancel 123456\"\n" +
		"• \"speed 123456\"\n" +
		"• \"refill 253637, 338488\"\n" +
		"• \"details 123456\"\n\n" +
		"❓ *Need Help?* Type \"help\""
}

// Link answers the services/site/terms/refund policy topics.
func (r Replies) Link(t domain.Topic) string {
	switch t {
	case domain.TopicServices:
		return "🛍️ Check out our services: " + r.site("/services")
	case domain.TopicTerms:
		return "📋 Terms of Service: " + r.site("/terms")
	case domain.TopicRefundPolicy:
		return "💰 Refund Policy: " + r.site("/refund-policy")
	}
	return "🌐 Visit our website: " + r.site("/")
}

// Account renders balance and/or spent for the balance topics.
func (r Replies) Account(t domain.Topic, a domain.Account) string {
	var lines []string
	if t == domain.TopicBalance || t == domain.TopicAccountSummary {
		lines = append(lines, "💰 Your current balance: "+a.Balance.String())
	}
	if t == domain.TopicSpent || t == domain.TopicAccountSummary {
		lines = append(lines, "💸 Total spent: "+a.Spent.String())
	}
	if len(lines) == 0 || (a.Balance.IsZero() && a.Spent.IsZero()) {
		return "❌ No account information available."
	}
	return strings.Join(lines, "\n")
}

func (r Replies) AccountFailed() string {
	return "❌ Could not retrieve your account information. Please try again later."
}

func (r Replies) OrderDetails(o domain.Order) string {
	return fmt.Sprintf("📦 Order #%s details:\n• Service: %s\n• Link: %s\n• Status: %s\n• Price: %s\n• Quantity: %s",
		o.ID, orDash(o.ServiceName), orDash(o.Link), orDash(o.Status), orDash(o.Charge.String()), orDash(o.Quantity))
}

func (r Replies) OrderNotFound(id string) string {
	return fmt.Sprintf("❌ Could not find order #%s. Please check the order ID and try again.", id)
}

func (r Replies) OrderForbidden(id string) string {
	return fmt.Sprintf("⛔ You don't have permission to view order #%s.", id)
}

func (r Replies) BareOrderID(id string) string {
	return fmt.Sprintf("What do you want to do with order #%s?\nReply with one of: details, cancel, refill, speed", id)
}

func (r Replies) NeedOrderID() string {
	return "Please send your Order ID with command✨\n📌 Example: 123456 refill/cancel/speed"
}

func (r Replies) TooManyOrders() string {
	return fmt.Sprintf("❌ Too many order ids. Maximum %d ids can be sent at once.", r.MaxOrderIDs)
}

func (r Replies) Cooldown() string {
	return fmt.Sprintf("⏳ Please wait for %s before sending another request", humanDuration(r.CooldownWindow))
}

func (r Replies) Generic() string {
	return "❌ Something went wrong. Please try again or type \"help\" for available commands."
}

func (r Replies) Unavailable() string {
	return "❌ Our system is temporarily unavailable. Please try again in a few minutes."
}

// ---- order pipeline ----

// NothingProcessed closes a multi-order summary in which no order reached a
// provider or support.
func (r Replies) NothingProcessed() string {
	return "No orders processed."
}

func (r Replies) NotFoundOrders(ids []string) string {
	return "❌ Could not find orders: " + strings.Join(ids, ", ")
}

func (r Replies) ForbiddenOrders(ids []string) string {
	return "⛔ No permission for orders: " + strings.Join(ids, ", ")
}

func (r Replies) UnavailableOrders(ids []string) string {
	return "❌ Could not check orders right now, please retry: " + strings.Join(ids, ", ")
}

// Processed confirms dispatch of a single order.
func (r Replies) Processed(a domain.Action, id string) string {
	switch a {
	case domain.ActionSpeed:
		return fmt.Sprintf("Your request to speed up order id %s has been processed✅.\n\nPlease note, it may take upto 6 hours to speed up.", id)
	case domain.ActionRefill:
		return fmt.Sprintf("✅ Refill request processed for order #%s.\n\n⏰ Please note: Refill can take up to 24 hours.", id)
	}
	return fmt.Sprintf("✅ Cancel request processed for order #%s.\n\n⏰ Please note: Cancel can take up to 24 hours.", id)
}

// ProcessedMany confirms dispatch of several orders.
func (r Replies) ProcessedMany(a domain.Action, ids []string) string {
	list := strings.Join(ids, ", ")
	switch a {
	case domain.ActionSpeed:
		return "Speed up processed ⚡: " + list + "\n⏰ Please note: it may take up to 6 hours to speed up."
	case domain.ActionRefill:
		return "✅ Processed: " + list + "\n⏰ Please note: Refill can take up to 24 hours."
	}
	return "✅ Processed: " + list + "\n⏰ Please note: Cancel can take up to 24 hours."
}

// Escalated tells the user some orders went to the support team.
func (r Replies) Escalated(a domain.Action, ids []string) string {
	if len(ids) == 1 {
		return fmt.Sprintf("%s request for order #%s was passed to our support team.\n\n%s", a.Title(), ids[0], r.SupportContact)
	}
	return fmt.Sprintf("%s requests were passed to our support team.\n\nOrders for which you have to contact the support team: %s\n\n%s",
		a.Title(), strings.Join(ids, ", "), r.SupportContact)
}

// DeliveryFailed is sent when even the support escalation could not be delivered.
func (r Replies) DeliveryFailed(a domain.Action, ids []string) string {
	return fmt.Sprintf("%s not possible contact with support team:\n\nOrder for which you have to contact support team: %s\n\n%s",
		a.Title(), strings.Join(ids, ", "), r.SupportContact)
}

// Ineligible explains one rejected order.
func (r Replies) Ineligible(a domain.Action, id string, v Verdict) string {
	switch v.Bucket {
	case BucketFinished:
		return fmt.Sprintf("Speed not possible, order is already %s.", v.Status)
	case BucketWaiting:
		return fmt.Sprintf("Order is still within its start time window (%s). Speed up not yet possible.\n\nThe start time of this order is %s. If the order is not completed by then, you may request a speed-up. (about %s left)",
			v.Window, v.Window, humanDuration(v.Remaining))
	case BucketNotCompleted:
		return fmt.Sprintf("Order #%s is not eligible for refill (status: %s)", id, v.Status)
	case BucketNoRefill:
		return fmt.Sprintf("Refill not available for order #%s.", id)
	case BucketExpired:
		return fmt.Sprintf("❌ Refill period has been expired for order #%s.", id)
	case BucketNoDate:
		return fmt.Sprintf("Could not determine order creation date for refill eligibility of order #%s.", id)
	case BucketNoPolicy:
		return fmt.Sprintf("Refill policy not found in service name for order #%s.", id)
	}
	return fmt.Sprintf("Order #%s cannot be %s (status: %s).", id, pastTense(a), v.Status)
}

// bucketHeading titles a bucket in multi-order summaries.
func (r Replies) bucketHeading(a domain.Action, b Bucket) string {
	switch b {
	case BucketEligible:
		switch a {
		case domain.ActionRefill:
			return "These orders can be refilled:"
		case domain.ActionSpeed:
			return "These orders can be sped up:"
		}
		return "These orders can be cancelled:"
	case BucketCompleted:
		return "These are completed ✅:"
	case BucketCanceled:
		return "These are canceled ❌:"
	case BucketOther:
		return "These have other status:"
	case BucketFinished:
		return "Speed not possible, already finished:"
	case BucketWaiting:
		return "Still within start time window ⏳:"
	case BucketNotCompleted:
		return "These are not completed:"
	case BucketNoRefill:
		return "Refill not available ❌:"
	case BucketExpired:
		return "❌ Refill period has been expired for:"
	case BucketNoDate:
		return "Could not determine creation date for:"
	case BucketNoPolicy:
		return "Refill policy not found for:"
	}
	return string(b) + ":"
}

func pastTense(a domain.Action) string {
	switch a {
	case domain.ActionSpeed:
		return "sped up"
	case domain.ActionRefill:
		return "refilled"
	}
	return "cancelled"
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// humanDuration renders d as "3 hours", "1 hour 5 min" or "12 min".
func humanDuration(d time.Duration) string {
	mins := int(d.Round(time.Minute) / time.Minute)
	if mins < 60 {
		return fmt.Sprintf("%d min", mins)
	}
	hrs, rem := mins/60, mins%60
	out := fmt.Sprintf("%d hour", hrs)
	if hrs != 1 {
		out += "s"
	}
	if rem > 0 {
		out += fmt.Sprintf(" %d min", rem)
	}
	return out
}
