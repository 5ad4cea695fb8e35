package scanning

// ReceiptPrompt is the shared prompt used by all LLM providers for scanning receipts
const ReceiptPrompt = `You are an assistant extracting receipt data from images.
There may be more than one receipt in this image.

Vendor | Location | Category | Subtotal | Taxes | Tip | Total | Date

Return a JSON list of receipts. Each receipt should have:
- vendor (string)
- location (string)
- category (string)
- subtotal (string or float)
- taxes (string or float)
- tip (string or float)
- total (string or float)
- date (ISO format preferred)
Do not include any other text or explanation. Only JSON.

Example output:
[
{"vendor": "Starbucks", "location": "Montreal", "category": "restaurant", "subtotal": "50.95", "taxes": "9.76", "tip": "3.55", "total": "64.26", "date": "2024-02-13"},
{"vendor": "Target", "location": "Toronto", "category": "clothing", "subtotal": "70.44", "taxes": "12.28", "tip": "", "total": "86.72", "date": "2024-12-30"}
]`
