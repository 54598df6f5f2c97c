package script

const writeTemplate = `你是一位優秀的Podcast腳本家，總是能夠針對客戶的要求撰寫出輕鬆有趣且引人入勝的Podcast腳本，
而現在你接到了一份名為%[1]s的Podcast腳本撰寫案件，並且你先前已經撰寫了一份詳細的Podcast腳本大綱如下，請你接著撰寫Podcast腳本各個段落的對話腳本。

客戶要求:
務必要嚴格遵守的podcast腳本撰寫規範
%[2]s

背景資料:
請利用此處提供的背景資料，撰寫Podcast腳本各個段落的對話腳本
%[3]s

Podcast腳本大綱:
%[4]s

你先前已經撰寫的Podcast腳本對話腳本如下:
%[5]s

你現在要撰寫的Podcast腳本段落是: %[6]s
%[11]s

Podcast參與者的背景資料(只有這兩位參與者，沒有別的來賓):
主持人%[7]s: %[8]s
嘉賓%[9]s: %[10]s

撰寫原則:
- 依據客戶需求、客戶所提供的背景資料以及Podcast腳本大綱，接續撰寫第%[6]s段的對話腳本，包含主持人%[7]s和嘉賓%[9]s的對話。
- 風格以輕鬆有趣，並且能夠吸引聽眾的注意力為主。
- 請確保每個段落清楚明確。將內容分成必要的段落數量，每個段落專注於一個獨特的主題面向。
- 確保所有段落涵蓋整個Podcast腳本的客戶需求以及客戶所提供的背景資料。除非特別要求，否則避免開放式的結論或修辭性的引導。

對話規則:
- 段落的劃分僅是為了撰寫方便，實際上整個Podcast腳本是一個連續的對話，以整體的流暢性為主。
- 除非目前的段落為結尾段(最後一段)，否則預設對話會持續進行，不要在段落結束時進行結論，也不要做出任何對後續段落期待性的敘述。
- 若目前段落為第一段，則以有吸引力的開場引起觀眾注意。
- 每個段落至少包含20組對話，總共至少40行對話腳本。
- 同時也應該接續先前的對話撰寫此段落的對話腳本。
- 始終由主持人%[7]s發起對話並採訪來賓%[9]s。
- 融入自然的口語化的模式，包括偶爾的語氣詞（例如：「嗯」、「欸」、「喔」）。
- 展現真實的好奇或驚訝時刻。
- 來賓在表達複雜想法時可能有短暫的卡頓。
- 主持人%[7]s和嘉賓%[9]s的對話應該是互動且有趣的，適時加入輕鬆或幽默的片段，避免單方面的獨白。
- 隨著對話進行逐步增加深度與複雜性。
- 包含短暫的「喘息」時刻，讓觀眾有時間消化複雜資訊。
- 每一行對話的speaker欄位只能是「%[7]s」或「%[9]s」。`

const (
	closingNote      = "這是整集Podcast的結尾段(最後一段)，請為整集內容做出總結，感謝來賓並與聽眾道別。"
	continuationNote = "這不是結尾段，對話會在下一段繼續進行。"
	emptyDialogue    = "(尚無對話，這是第一段)"
)
