package config

// Default scriptwriting instruction and speaker identities used when a request
// leaves them empty.
const (
	DefaultInstruction = "請根據背景知識所提供的論文內容，非常深入的探討論文的技術內容，以幫助聽眾完全理解論文的內容，盡量引用論文中的數據或是其論點"

	DefaultHostName       = "主持人"
	DefaultHostBackground = "主持人是一位資深的領域學者，擁有豐富的研究經驗，擅長以輕鬆有趣的方式採訪嘉賓，並將複雜的議題轉化為聽眾容易理解的內容。"

	DefaultGuestName       = "來賓"
	DefaultGuestBackground = "來賓是一位資深的領域學者，擁有豐富的研究經驗，擅長以輕鬆有趣的方式解釋複雜的議題，並將其轉化為聽眾容易理解的內容。"
)
