package broadcast

// User-facing strings. The bot speaks Uzbek.
const (
	msgWelcome      = "Botga xush kelibsiz!"
	msgDenied       = "Sizda botni boshqarish huquqi yo'q."
	msgChooseGroups = "Qaysi guruhlarga yuborilsin?"
	msgNoGroups     = "Bot hech qanday guruhga qo'shilmagan."
	msgNoneSelected = "Hech qanday guruh tanlanmagan!"

	menuListGroups = "Guruhlar ro'yxati"
	menuDeleteLast = "Oxirgi xabarni o'chirish"

	btnSendSelected = "📤 Yuborish"
	btnSendAll      = "📢 Barchasiga yuborish"

	fmtSentReport    = "✅ %d ta guruhga yuborildi."
	fmtDeletedReport = "%d / %d ta xabar o‘chirildi."
	fmtGroupList     = "📋 Guruhlar:\n%s"
)
