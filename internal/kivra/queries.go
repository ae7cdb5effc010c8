package kivra

// GraphQL documents sent to the bff endpoint. These mirror the queries the
// Kivra web inbox issues; the field selections matter for compatibility and
// should not be trimmed.

const receiptsQuery = `
query Receipts($search: String, $limit: Int, $offset: Int) {
  receiptsV2(search: $search, limit: $limit, offset: $offset) {
    __typename
    total
    offset
    limit
    list {
      ...baseDetailsFields
    }
  }
}

fragment baseDetailsFields on ReceiptBaseDetails {
  __typename
  key
  purchaseDate
  totalAmount {
    formatted
  }
  attributes {
    isCopy
    isExpensed
    isReturn
    isTrashed
  }
  store {
    name
    logo {
      publicUrl
    }
  }
  attachments {
    id
    type
  }
  accessInfo {
    owner {
      isMe
      name
    }
  }
}
`

const receiptDetailsQuery = `
query ReceiptDetails($key: String!) {
  receiptV2(key: $key) {
    key
    content {
      header {
        totalPurchaseAmount
        subAmounts
        isoDate
        formattedDate
        text
        labels {
          type
          text
        }
        logo {
          publicUrl
        }
      }
      footer {
        text
      }
      items {
        allItems {
          text
          items {
            text
            type
            ... on ProductListItem {
              ...productFields
            }
            ... on GeneralDepositListItem {
              money {
                formatted
              }
              isRefund
              description
              text
            }
            ... on GeneralDiscountListItem {
              money {
                formatted
              }
              isRefund
              text
            }
            ... on GeneralModifierListItem {
              money {
                formatted
              }
              isRefund
              text
            }
          }
        }
        noBonusItems {
          text
          items {
            type
            ... on ProductListItem {
              ...productFields
            }
          }
        }
        returnedItems {
          text
          items {
            type
            ... on ProductReturnListItem {
              name
              money {
                formatted
              }
              quantityCost {
                formatted
              }
              deposits {
                description
                money {
                  formatted
                }
                isRefund
              }
              costModifiers {
                description
                money {
                  formatted
                }
                isRefund
              }
              connectedReceipt {
                receiptKey
                description
                isParentReceipt
              }
              identifiers
              text
            }
          }
        }
      }
      storeInformation {
        text
        storeInformation {
          property
          value
          subRows {
            property
            value
          }
        }
      }
      paymentInformation {
        text
        totals {
          text
          totals {
            property
            value
            subRows {
              property
              value
            }
          }
        }
        paymentMethods {
          text
          methods {
            type
            information {
              property
              value
              subRows {
                property
                value
              }
            }
          }
        }
        customer {
          text
          customer {
            property
            value
            subRows {
              property
              value
            }
          }
        }
        cashRegister {
          text
          cashRegister {
            property
            value
            subRows {
              property
              value
            }
          }
        }
      }
    }
    campaigns {
      image {
        publicUrl
      }
      title
      key
      height
      width
      destinationUrl
    }
    sender {
      name
      key
    }
    attributes {
      isUpdatedWithReturns
    }
  }
}

fragment productFields on ProductListItem {
  name
  money {
    formatted
  }
  quantityCost {
    formatted
  }
  deposits {
    description
    money {
      formatted
    }
    isRefund
  }
  costModifiers {
    description
    money {
      formatted
    }
    isRefund
  }
  identifiers
  text
}
`

const lettersQuery = `
query ContentList($filter: ContentListFilter!, $senderKey: String, $take: Int!, $after: ID) {
  contents(
    filter: $filter
    senderKey: $senderKey
    take: $take
    after: $after
  ) {
    total
    existsMore
    list {
      ...ContentBaseDetails
    }
  }
}

fragment ContentBaseDetails on IContentBaseDetails {
  __typename
  key
  receivedAt
  attributes {
    isRead
    isTrashed
    isUpload
  }
  sender {
    key
    name
    iconUrl
  }
  subject
  accessInfo {
    owner {
      isMe
      name
    }
  }
}
`
